package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/brainforce/apiserver/internal/services"
	"github.com/brainforce/apiserver/internal/validator"
	"github.com/go-chi/chi/v5"
)

// QuizHandler serves quiz history and the leaderboard.
type QuizHandler struct {
	quizzes  *services.QuizService
	validate *validator.Validator
	logger   *slog.Logger
}

func NewQuizHandler(quizzes *services.QuizService, validate *validator.Validator, logger *slog.Logger) *QuizHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizHandler{quizzes: quizzes, validate: validate, logger: logger}
}

// QuizRouter registers quiz routes on the given router.
func QuizRouter(r chi.Router, h *QuizHandler, requireAuth func(http.Handler) http.Handler) {
	r.Get("/list", h.Leaderboard)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/addquiz", h.AddQuiz)
		r.Post("/listquiz", h.ListQuizzes)
	})
}

type AddQuizRequest struct {
	UserID     int             `json:"userid" validate:"required,gte=1"`
	Questions  json.RawMessage `json:"questions"`
	Points     int             `json:"points"`
	Subject    string          `json:"subject" validate:"max=200"`
	Difficulty string          `json:"difficulty" validate:"max=50"`
}

type ListQuizzesRequest struct {
	UserID int `json:"userid" validate:"required,gte=1"`
}

func (h *QuizHandler) AddQuiz(w http.ResponseWriter, r *http.Request) {
	var req AddQuizRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		writeServiceError(w, h.logger, err, "failed to record quiz")
		return
	}
	if !ownsUserID(r, req.UserID) {
		writeServiceError(w, h.logger, services.ErrForbidden, "failed to record quiz")
		return
	}

	quiz, err := h.quizzes.AddQuiz(r.Context(), services.AddQuizInput{
		UserID:     req.UserID,
		Questions:  req.Questions,
		Points:     req.Points,
		Subject:    req.Subject,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to record quiz")
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *QuizHandler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	var req ListQuizzesRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		writeServiceError(w, h.logger, err, "failed to list quizzes")
		return
	}
	if !ownsUserID(r, req.UserID) {
		writeServiceError(w, h.logger, services.ErrForbidden, "failed to list quizzes")
		return
	}

	quizzes, err := h.quizzes.ListQuizzes(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list quizzes")
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

// Leaderboard lists every user ordered by points, highest first.
func (h *QuizHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.quizzes.Leaderboard(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func ownsUserID(r *http.Request, userID int) bool {
	claims, ok := claimsFromContext(r.Context())
	return ok && claims.ID == userID
}
