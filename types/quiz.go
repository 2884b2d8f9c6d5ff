package types

import (
	"encoding/json"
	"time"
)

// Quiz is a completed quiz submitted by a user for scoring.
// Records are immutable once stored.
type Quiz struct {
	// ID is the unique identifier of the quiz record.
	ID int `json:"quiz_id" db:"quiz_id"`

	// UserID identifies the user who owns the record.
	UserID int `json:"user_id" db:"user_id"`

	// Questions is the ordered list of question entries as answered by the
	// user. The payload is opaque to the server and stored as JSON.
	Questions json.RawMessage `json:"questions" db:"questions"`

	// Points is the score awarded for the quiz.
	Points int `json:"points" db:"points"`

	// Subject is the topic the quiz was generated for.
	Subject string `json:"subject" db:"subject"`

	// Difficulty is the difficulty label the quiz was generated with.
	Difficulty string `json:"difficulty" db:"difficulty"`

	// CreatedAt is the timestamp when the quiz was recorded.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
