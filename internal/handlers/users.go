package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brainforce/apiserver/internal/services"
	"github.com/brainforce/apiserver/internal/validator"
	"github.com/brainforce/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const formFieldPhoto = "photo"

// UserHandler serves registration, login and profile endpoints.
type UserHandler struct {
	auth     *services.AuthService
	photos   *services.PhotoService
	validate *validator.Validator
	logger   *slog.Logger
}

func NewUserHandler(authService *services.AuthService, photos *services.PhotoService, validate *validator.Validator, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{auth: authService, photos: photos, validate: validate, logger: logger}
}

// AuthRouter registers account routes on the given router.
func AuthRouter(r chi.Router, h *UserHandler, requireAuth func(http.Handler) http.Handler) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/profile", h.Profile)
	r.Get("/photos/{name}", h.ServePhoto)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/me", h.Me)
		r.Post("/update", h.UpdateScore)
		r.Post("/photo", h.UpdatePhoto)
		r.Post("/photo/upload", h.UploadPhoto)
	})
}

// RegisterRequest carries no validate tags; the auth service checks every
// field in one fixed order.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Username  string `json:"username"`
	Points    int    `json:"points"`
	Photo     string `json:"photo"`
	TotalQuiz int    `json:"totalquiz"`
}

type RegisterResponse struct {
	User types.User `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ProfileRequest struct {
	Token string `json:"token"`
}

type UpdateScoreRequest struct {
	Email  string `json:"email" validate:"required,max=254"`
	Points int    `json:"points"`
}

type UpdatePhotoRequest struct {
	Email string `json:"email" validate:"required,max=254"`
	Photo string `json:"photo" validate:"required,max=2048"`
}

type PhotoUploadResponse struct {
	Token string `json:"token"`
	Photo string `json:"photo"`
}

// Register creates a new account. Rule violations and duplicate emails are
// reported as 400 with a readable message.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		writeServiceError(w, h.logger, err, "failed to register")
		return
	}

	user, err := h.auth.Register(r.Context(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Points:    req.Points,
		Photo:     req.Photo,
		TotalQuiz: req.TotalQuiz,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{User: user})
}

// Login verifies credentials and returns a signed token.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		writeServiceError(w, h.logger, err, "failed to authenticate")
		return
	}

	user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to authenticate")
		return
	}

	h.writeToken(w, user)
}

// Profile decodes the token in the body. It answers null for any invalid
// token.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(w, r, nil, &req); err != nil {
		writeServiceError(w, h.logger, err, "failed to verify token")
		return
	}
	writeJSON(w, http.StatusOK, h.auth.VerifyToken(req.Token))
}

// Me returns the claims of the authenticated caller.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (h *UserHandler) UpdateScore(w http.ResponseWriter, r *http.Request) {
	var req UpdateScoreRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		writeServiceError(w, h.logger, err, "failed to update score")
		return
	}
	if !ownsEmail(r, req.Email) {
		writeServiceError(w, h.logger, services.ErrForbidden, "failed to update score")
		return
	}

	update, err := h.auth.UpdateScore(r.Context(), req.Email, req.Points)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update score")
		return
	}
	writeJSON(w, http.StatusOK, update)
}

// UpdatePhoto records a photo reference and returns a token with the
// refreshed profile.
func (h *UserHandler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	var req UpdatePhotoRequest
	if err := decodeJSON(w, r, h.validate, &req); err != nil {
		writeServiceError(w, h.logger, err, "failed to update photo")
		return
	}
	if !ownsEmail(r, req.Email) {
		writeServiceError(w, h.logger, services.ErrForbidden, "failed to update photo")
		return
	}

	user, err := h.auth.UpdatePhoto(r.Context(), req.Email, req.Photo)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update photo")
		return
	}
	h.writeToken(w, user)
}

// UploadPhoto stores a multipart image as the caller's photo.
func (h *UserHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	maxBytes := h.photos.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Photo must be at most %d bytes", maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile(formFieldPhoto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()

	ref, err := h.photos.Upload(r.Context(), claims.Email, file, header.Size)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to upload photo")
		return
	}

	user, err := h.auth.UpdatePhoto(r.Context(), claims.Email, ref)
	if err != nil {
		h.photos.Release(r.Context(), ref)
		writeServiceError(w, h.logger, err, "failed to update photo")
		return
	}

	token, err := h.auth.GenerateToken(user)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, PhotoUploadResponse{Token: token, Photo: ref})
}

// ServePhoto streams an uploaded photo. A matching If-None-Match gets 304.
func (h *UserHandler) ServePhoto(w http.ResponseWriter, r *http.Request) {
	obj, err := h.photos.Open(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load photo")
		return
	}
	defer obj.Body.Close()

	header := w.Header()
	cacheControl := obj.CacheControl
	if cacheControl == "" {
		cacheControl = services.PhotoCacheControl
	}
	header.Set("Cache-Control", cacheControl)
	if obj.ETag != "" {
		header.Set("ETag", obj.ETag)
	}
	if !obj.LastModified.IsZero() {
		header.Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	}
	if obj.ETag != "" && etagMatches(r.Header.Get("If-None-Match"), obj.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if obj.ContentType != "" {
		header.Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		header.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("stream photo", slog.String("error", err.Error()))
	}
}

func etagMatches(ifNoneMatch, etag string) bool {
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func (h *UserHandler) writeToken(w http.ResponseWriter, user types.User) {
	token, err := h.auth.GenerateToken(user)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func ownsEmail(r *http.Request, email string) bool {
	claims, ok := claimsFromContext(r.Context())
	return ok && services.NormalizeEmail(claims.Email) == services.NormalizeEmail(email)
}

