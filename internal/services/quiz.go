package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brainforce/apiserver/internal/events"
	"github.com/brainforce/apiserver/types"
)

// QuizRepository defines persistence operations for quiz records.
type QuizRepository interface {
	Create(ctx context.Context, quiz types.Quiz) (types.Quiz, error)
	ListByUser(ctx context.Context, userID int) ([]types.Quiz, error)
}

// LeaderboardRepository reads the ranked user summaries.
type LeaderboardRepository interface {
	Leaderboard(ctx context.Context) ([]types.LeaderboardEntry, error)
}

// AddQuizInput is a completed quiz submitted for recording.
type AddQuizInput struct {
	UserID     int
	Questions  json.RawMessage
	Points     int
	Subject    string
	Difficulty string
}

// QuizService records quizzes and serves the leaderboard.
type QuizService struct {
	quizzes     QuizRepository
	ranking     LeaderboardRepository
	leaderboard LeaderboardCache
	events      *events.Emitter
	logger      *slog.Logger
}

func NewQuizService(quizzes QuizRepository, ranking LeaderboardRepository, leaderboard LeaderboardCache, emitter *events.Emitter, logger *slog.Logger) *QuizService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizService{
		quizzes:     quizzes,
		ranking:     ranking,
		leaderboard: leaderboard,
		events:      emitter,
		logger:      logger,
	}
}

// AddQuiz stores an immutable quiz record. Store errors are returned to the
// caller.
func (s *QuizService) AddQuiz(ctx context.Context, in AddQuizInput) (types.Quiz, error) {
	if in.UserID <= 0 {
		return types.Quiz{}, validationError("userid is required")
	}

	questions := bytes.TrimSpace(in.Questions)
	if len(questions) == 0 || bytes.Equal(questions, []byte("null")) {
		questions = []byte("[]")
	}
	if !json.Valid(questions) {
		return types.Quiz{}, validationError("questions must be valid JSON")
	}

	quiz, err := s.quizzes.Create(ctx, types.Quiz{
		UserID:     in.UserID,
		Questions:  json.RawMessage(questions),
		Points:     in.Points,
		Subject:    strings.TrimSpace(in.Subject),
		Difficulty: strings.TrimSpace(in.Difficulty),
	})
	if err != nil {
		s.logger.Error("record quiz", slog.Int("user_id", in.UserID), slog.String("error", err.Error()))
		return types.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}

	s.events.QuizRecorded(ctx, events.QuizRecorded{
		QuizID:     quiz.ID,
		UserID:     quiz.UserID,
		Points:     quiz.Points,
		Subject:    quiz.Subject,
		Difficulty: quiz.Difficulty,
		RecordedAt: time.Now().UTC(),
	})
	return quiz, nil
}

// ListQuizzes returns every quiz owned by userID, never nil.
func (s *QuizService) ListQuizzes(ctx context.Context, userID int) ([]types.Quiz, error) {
	quizzes, err := s.quizzes.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	if quizzes == nil {
		quizzes = []types.Quiz{}
	}
	return quizzes, nil
}

// Leaderboard returns all users ordered by points, served from the cache
// when it holds a copy.
func (s *QuizService) Leaderboard(ctx context.Context) ([]types.LeaderboardEntry, error) {
	if s.leaderboard != nil {
		entries, ok, err := s.leaderboard.Get(ctx)
		if err != nil {
			s.logger.Warn("read leaderboard cache", slog.String("error", err.Error()))
		}
		if ok {
			return entries, nil
		}
	}
	return s.loadLeaderboard(ctx)
}

// RefreshLeaderboard reloads the leaderboard from the store into the cache.
func (s *QuizService) RefreshLeaderboard(ctx context.Context) error {
	_, err := s.loadLeaderboard(ctx)
	return err
}

func (s *QuizService) loadLeaderboard(ctx context.Context) ([]types.LeaderboardEntry, error) {
	entries, err := s.ranking.Leaderboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	if entries == nil {
		entries = []types.LeaderboardEntry{}
	}
	if s.leaderboard != nil {
		if err := s.leaderboard.Set(ctx, entries); err != nil {
			s.logger.Warn("write leaderboard cache", slog.String("error", err.Error()))
		}
	}
	return entries, nil
}
