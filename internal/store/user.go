package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/brainforce/apiserver/types"
)

const userColumns = `id, email, username, firstname, lastname, photo, points, totalquiz, password_hash, created`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail looks the user up by the stored (lower-cased) email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.CreatedAt = time.Now()

	const query = `
		INSERT INTO users (email, username, firstname, lastname, photo, points, totalquiz, password_hash, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Email,
		user.Username,
		user.FirstName,
		user.LastName,
		user.Photo,
		user.Points,
		user.TotalQuiz,
		user.PasswordHash,
		user.CreatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// IncrementScore adds delta to the user's points and counts one more
// completed quiz in a single statement, so concurrent updates never lose
// an increment.
func (r *UserRepository) IncrementScore(ctx context.Context, email string, delta int) (types.ScoreUpdate, error) {
	const query = `
		UPDATE users
		SET points = points + $2,
			totalquiz = totalquiz + 1
		WHERE email = $1
		RETURNING points, totalquiz`
	var update types.ScoreUpdate
	err := r.db.QueryRowContext(ctx, query, email, delta).Scan(&update.Points, &update.TotalQuiz)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ScoreUpdate{}, ErrNotFound
		}
		return types.ScoreUpdate{}, translateError(err)
	}
	return update, nil
}

// UpdatePhoto overwrites the photo reference and returns the refreshed user.
func (r *UserRepository) UpdatePhoto(ctx context.Context, email, photo string) (types.User, error) {
	const query = `
		UPDATE users
		SET photo = $2
		WHERE email = $1
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, email, photo))
}

// Leaderboard lists every user ordered by points, highest first.
func (r *UserRepository) Leaderboard(ctx context.Context) ([]types.LeaderboardEntry, error) {
	const query = `
		SELECT id, username, points, created, photo, totalquiz
		FROM users
		ORDER BY points DESC, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]types.LeaderboardEntry, 0)
	for rows.Next() {
		var entry types.LeaderboardEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Username,
			&entry.Points,
			&entry.CreatedAt,
			&entry.Photo,
			&entry.TotalQuiz,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Photo,
		&user.Points,
		&user.TotalQuiz,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
