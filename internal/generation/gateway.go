// Package generation builds study-content prompts and forwards them to a
// chat-completion API.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brainforce/apiserver/config"
	"github.com/brainforce/apiserver/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
)

// GenericFailure is reported when the upstream returned no usable payload.
const GenericFailure = "There was an issue on the server"

// UpstreamError is a failed or unusable chat-completion call. Payload holds
// the upstream error body when one was returned.
type UpstreamError struct {
	Status  int
	Payload any
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream completion failed: %v", e.Err)
	}
	return "upstream completion failed"
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Body returns what the client is shown for this failure.
func (e *UpstreamError) Body() any {
	if e.Payload != nil {
		return e.Payload
	}
	return GenericFailure
}

// Completer is satisfied by *openai.Client.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Gateway sends prompts to the completion API with a bounded timeout and
// returns the raw model text. It does not retry.
type Gateway struct {
	client  Completer
	models  Models
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewGateway(client Completer, models Models, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{client: client, models: models.withDefaults(), timeout: timeout, metrics: m, logger: logger}
}

// NewOpenAIClient builds the go-openai client from config.
func NewOpenAIClient(cfg config.OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (g *Gateway) Flashcards(ctx context.Context, req DeckRequest) (string, error) {
	return g.Complete(ctx, FlashcardsPrompt(g.models, req))
}

func (g *Gateway) Quiz(ctx context.Context, req DeckRequest) (string, error) {
	return g.Complete(ctx, QuizPrompt(g.models, req))
}

func (g *Gateway) Challenge(ctx context.Context, req ChallengeRequest) (string, error) {
	return g.Complete(ctx, ChallengePrompt(g.models, req))
}

func (g *Gateway) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	return g.Complete(ctx, ExplainPrompt(g.models, req))
}

// Complete runs one prompt. Every failure is returned as *UpstreamError.
func (g *Gateway) Complete(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		MaxTokens:        p.MaxTokens,
		Temperature:      p.Temperature,
		TopP:             1,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
	})
	elapsed := time.Since(start)

	if err != nil {
		upstream := translateError(err)
		g.metrics.ObserveGeneration(string(p.Kind), outcome(upstream), elapsed)
		g.logger.Warn("completion failed",
			slog.String("kind", string(p.Kind)),
			slog.String("model", p.Model),
			slog.Int("status", upstream.Status),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return "", upstream
	}

	if len(resp.Choices) == 0 {
		g.metrics.ObserveGeneration(string(p.Kind), "empty", elapsed)
		return "", &UpstreamError{Status: http.StatusBadGateway, Err: errors.New("no choices returned")}
	}

	g.metrics.ObserveGeneration(string(p.Kind), "ok", elapsed)
	g.logger.Debug("completion finished",
		slog.String("kind", string(p.Kind)),
		slog.String("model", p.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("elapsed", elapsed),
	)
	return resp.Choices[0].Message.Content, nil
}

func translateError(err error) *UpstreamError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body := map[string]any{
			"message": apiErr.Message,
			"type":    apiErr.Type,
		}
		if apiErr.Code != nil {
			body["code"] = apiErr.Code
		}
		return &UpstreamError{
			Status:  apiErr.HTTPStatusCode,
			Payload: map[string]any{"error": body},
			Err:     err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Status: http.StatusGatewayTimeout, Err: err}
	}
	return &UpstreamError{Err: err}
}

func outcome(err *UpstreamError) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case err.Payload != nil:
		return "rejected"
	default:
		return "error"
	}
}
