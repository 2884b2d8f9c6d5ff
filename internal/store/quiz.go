package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/brainforce/apiserver/types"
)

// QuizRepository handles persistence for completed quizzes.
type QuizRepository struct {
	db *sql.DB
}

func NewQuizRepository(db *sql.DB) *QuizRepository {
	return &QuizRepository{db: db}
}

func (r *QuizRepository) Create(ctx context.Context, quiz types.Quiz) (types.Quiz, error) {
	quiz.CreatedAt = time.Now()

	const query = `
		INSERT INTO quizzes (user_id, questions, points, subject, difficulty, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING quiz_id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		quiz.UserID,
		[]byte(quiz.Questions),
		quiz.Points,
		quiz.Subject,
		quiz.Difficulty,
		quiz.CreatedAt,
	).Scan(&quiz.ID); err != nil {
		return types.Quiz{}, translateError(err)
	}
	return quiz, nil
}

// ListByUser returns the user's quizzes in insertion order.
func (r *QuizRepository) ListByUser(ctx context.Context, userID int) ([]types.Quiz, error) {
	const query = `
		SELECT quiz_id, user_id, questions, points, subject, difficulty, created_at
		FROM quizzes
		WHERE user_id = $1
		ORDER BY quiz_id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quizzes := make([]types.Quiz, 0)
	for rows.Next() {
		var quiz types.Quiz
		var questions []byte
		if err := rows.Scan(
			&quiz.ID,
			&quiz.UserID,
			&questions,
			&quiz.Points,
			&quiz.Subject,
			&quiz.Difficulty,
			&quiz.CreatedAt,
		); err != nil {
			return nil, err
		}
		quiz.Questions = questions
		quizzes = append(quizzes, quiz)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return quizzes, nil
}
