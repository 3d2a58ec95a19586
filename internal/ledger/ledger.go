// Package ledger is the append-only record of graded attempts. Rows are
// written exactly once per completed attempt and never updated or deleted
// from this subsystem.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrDuplicateAttempt = errors.New("attempt already recorded")

// Record is one graded attempt. Answers holds the raw answers as given:
// a JSON array for single-subject tests, a subject-keyed object for
// multi-subject tests.
type Record struct {
	ID               int64           `json:"id"`
	AttemptID        string          `json:"attempt_id"`
	UserID           int64           `json:"user_id"`
	MaterialID       int64           `json:"material_id"`
	Answers          json.RawMessage `json:"answers"`
	Score            int             `json:"score"`
	TotalQuestions   int             `json:"total_questions"`
	WeightedAverage  *float64        `json:"weighted_average,omitempty"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	SubmittedAt      time.Time       `json:"submitted_at"`
}

// Store persists graded attempts. Append must refuse a second row for the
// same attempt id with ErrDuplicateAttempt; that uniqueness is what makes
// grading idempotent across retries.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	ListForMaterials(ctx context.Context, materialIDs []int64) ([]Record, error)
}
