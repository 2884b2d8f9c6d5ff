package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brainforce/apiserver/internal/metrics"
	"github.com/brainforce/apiserver/internal/mq"
)

// Subscriber is satisfied by *mq.MQ.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// LeaderboardRefresher rebuilds the cached leaderboard.
type LeaderboardRefresher interface {
	RefreshLeaderboard(ctx context.Context) error
}

// Worker consumes domain events and runs their side effects.
type Worker struct {
	sub       Subscriber
	refresher LeaderboardRefresher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewWorker(sub Subscriber, refresher LeaderboardRefresher, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sub: sub, refresher: refresher, metrics: m, logger: logger}
}

// Run subscribes to every channel and blocks until ctx is done or a
// subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	handlers := map[string]mq.Handler{
		ChannelQuizRecorded: w.HandleQuizRecorded,
		ChannelScoreUpdated: w.HandleScoreUpdated,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for channel, handler := range handlers {
		wg.Add(1)
		go func(channel string, handler mq.Handler) {
			defer wg.Done()
			w.logger.Info("subscribing", slog.String("channel", channel))
			err := w.sub.Subscribe(ctx, channel, handler)
			if err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() {
					firstErr = fmt.Errorf("subscribe %s: %w", channel, err)
					cancel()
				})
			}
		}(channel, handler)
	}
	wg.Wait()
	return firstErr
}

func (w *Worker) HandleQuizRecorded(ctx context.Context, msg mq.Message) error {
	var ev QuizRecorded
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		// Malformed payloads are acknowledged; retrying cannot fix them.
		w.logger.Warn("drop malformed event", slog.String("channel", ChannelQuizRecorded), slog.String("error", err.Error()))
		w.metrics.ObserveEvent(ChannelQuizRecorded, "malformed")
		return nil
	}
	w.metrics.ObserveQuizRecorded()
	w.metrics.ObserveEvent(ChannelQuizRecorded, "ok")
	w.logger.Info("quiz recorded",
		slog.Int("quiz_id", ev.QuizID),
		slog.Int("user_id", ev.UserID),
		slog.Int("points", ev.Points),
		slog.String("subject", ev.Subject),
	)
	return nil
}

func (w *Worker) HandleScoreUpdated(ctx context.Context, msg mq.Message) error {
	var ev ScoreUpdated
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		w.logger.Warn("drop malformed event", slog.String("channel", ChannelScoreUpdated), slog.String("error", err.Error()))
		w.metrics.ObserveEvent(ChannelScoreUpdated, "malformed")
		return nil
	}
	if w.refresher != nil {
		if err := w.refresher.RefreshLeaderboard(ctx); err != nil {
			w.metrics.ObserveEvent(ChannelScoreUpdated, "error")
			return fmt.Errorf("refresh leaderboard: %w", err)
		}
	}
	w.metrics.ObserveEvent(ChannelScoreUpdated, "ok")
	w.logger.Debug("leaderboard refreshed", slog.String("email", ev.Email), slog.Int("points", ev.Points))
	return nil
}
