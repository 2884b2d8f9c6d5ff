package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brainforce/apiserver/internal/generation"
	"github.com/brainforce/apiserver/internal/metrics"
	"github.com/brainforce/apiserver/internal/ratelimit"
	"github.com/brainforce/apiserver/internal/validator"
	"github.com/go-chi/chi/v5"
)

// Generator is satisfied by *generation.Gateway.
type Generator interface {
	Flashcards(ctx context.Context, req generation.DeckRequest) (string, error)
	Quiz(ctx context.Context, req generation.DeckRequest) (string, error)
	Challenge(ctx context.Context, req generation.ChallengeRequest) (string, error)
	Explain(ctx context.Context, req generation.ExplainRequest) (string, error)
}

// Limiter is satisfied by *ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// GenerationResponse is the envelope of every generation route.
type GenerationResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// GenerationHandler forwards study-content requests to the gateway.
type GenerationHandler struct {
	gen      Generator
	limiter  Limiter
	validate *validator.Validator
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewGenerationHandler(gen Generator, limiter Limiter, validate *validator.Validator, m *metrics.Metrics, logger *slog.Logger) *GenerationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationHandler{gen: gen, limiter: limiter, validate: validate, metrics: m, logger: logger}
}

// GenerationRouter registers generation routes. Every route requires auth
// and is rate limited per user.
func GenerationRouter(r chi.Router, h *GenerationHandler, requireAuth func(http.Handler) http.Handler) {
	r.Use(requireAuth, h.rateLimit)
	r.Post("/flashcards", h.Flashcards)
	r.Post("/quiz", h.Quiz)
	r.Post("/challenge", h.Challenge)
	r.Post("/explain", h.Explain)
}

func (h *GenerationHandler) Flashcards(w http.ResponseWriter, r *http.Request) {
	var req generation.DeckRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := h.gen.Flashcards(r.Context(), req)
	h.respond(w, data, err)
}

func (h *GenerationHandler) Quiz(w http.ResponseWriter, r *http.Request) {
	var req generation.DeckRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := h.gen.Quiz(r.Context(), req)
	h.respond(w, data, err)
}

func (h *GenerationHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req generation.ChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := h.gen.Challenge(r.Context(), req)
	h.respond(w, data, err)
}

func (h *GenerationHandler) Explain(w http.ResponseWriter, r *http.Request) {
	var req generation.ExplainRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := h.gen.Explain(r.Context(), req)
	h.respond(w, data, err)
}

func (h *GenerationHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.validate, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, GenerationResponse{Success: false, Error: err.Error()})
		return false
	}
	return true
}

func (h *GenerationHandler) respond(w http.ResponseWriter, data string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, GenerationResponse{Success: true, Data: data})
		return
	}

	var upstream *generation.UpstreamError
	if errors.As(err, &upstream) {
		writeJSON(w, http.StatusBadRequest, GenerationResponse{Success: false, Error: upstream.Body()})
		return
	}
	h.logger.Error("generation failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusBadRequest, GenerationResponse{Success: false, Error: generation.GenericFailure})
}

// rateLimit rejects callers over their per-minute budget. Limiter failures
// let the request through.
func (h *GenerationHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok || h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := h.limiter.Allow(r.Context(), "generate:"+strconv.Itoa(claims.ID))
		if err != nil {
			h.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}
		if !decision.Allowed {
			h.metrics.ObserveRateLimited("generation")
			retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, GenerationResponse{Success: false, Error: "Too many requests, try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
