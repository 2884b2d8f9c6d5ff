package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Channel names shared by publishers and the worker.
const (
	ChannelQuizRecorded = "quiz.recorded"
	ChannelScoreUpdated = "score.updated"
)

// QuizRecorded is published after a quiz result is stored.
type QuizRecorded struct {
	QuizID     int       `json:"quiz_id"`
	UserID     int       `json:"user_id"`
	Points     int       `json:"points"`
	Subject    string    `json:"subject"`
	Difficulty string    `json:"difficulty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ScoreUpdated is published after a user's points change.
type ScoreUpdated struct {
	Email     string    `json:"email"`
	Delta     int       `json:"delta"`
	Points    int       `json:"points"`
	TotalQuiz int       `json:"totalquiz"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publisher is satisfied by *mq.MQ.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Emitter publishes domain events. Failures are logged and never returned,
// so a broker outage cannot fail the request that produced the event.
// A nil *Emitter, or one without a publisher, drops events.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
}

func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, logger: logger}
}

func (e *Emitter) QuizRecorded(ctx context.Context, ev QuizRecorded) {
	e.emit(ctx, ChannelQuizRecorded, ev)
}

func (e *Emitter) ScoreUpdated(ctx context.Context, ev ScoreUpdated) {
	e.emit(ctx, ChannelScoreUpdated, ev)
}

func (e *Emitter) emit(ctx context.Context, channel string, payload any) {
	if e == nil || e.pub == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("encode event", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	id, err := e.pub.Publish(ctx, channel, data, map[string]string{"type": channel})
	if err != nil {
		e.logger.Warn("publish event", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	e.logger.Debug("event published", slog.String("channel", channel), slog.String("message_id", id))
}
