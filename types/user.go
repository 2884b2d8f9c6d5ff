package types

import "time"

// User represents a registered account.
// It contains identity, profile, and quiz progress.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the user's login address. It is unique and stored lower-cased.
	Email string `json:"email" db:"email"`

	// Username is the public display handle shown on the leaderboard.
	Username string `json:"username" db:"username"`

	// FirstName is the user's given name.
	FirstName string `json:"firstname" db:"firstname"`

	// LastName is the user's family name.
	LastName string `json:"lastname" db:"lastname"`

	// Photo is a reference to the profile picture, either an external URL
	// or the path of an uploaded object.
	Photo string `json:"photo" db:"photo"`

	// Points is the cumulative score across all completed quizzes.
	Points int `json:"points" db:"points"`

	// TotalQuiz is the number of completed quizzes.
	TotalQuiz int `json:"totalquiz" db:"totalquiz"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created" db:"created"`
}

// LeaderboardEntry is the public summary of a user shown on the leaderboard.
type LeaderboardEntry struct {
	ID        int       `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Points    int       `json:"points" db:"points"`
	CreatedAt time.Time `json:"created" db:"created"`
	Photo     string    `json:"photo" db:"photo"`
	TotalQuiz int       `json:"totalquiz" db:"totalquiz"`
}

// ScoreUpdate is the result of applying a score delta to a user.
type ScoreUpdate struct {
	Points    int `json:"points"`
	TotalQuiz int `json:"totalquiz"`
}
