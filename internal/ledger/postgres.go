package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLStore is the Postgres-backed ledger. The submissions table carries a
// unique index on attempt_id; the insert relies on it for dedup.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Append(ctx context.Context, rec *Record) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}

	var avg interface{}
	if rec.WeightedAverage != nil {
		avg = *rec.WeightedAverage
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (
			attempt_id,
			user_id,
			material_id,
			answers,
			score,
			total_questions,
			weighted_average,
			time_spent_seconds,
			submitted_at
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
		ON CONFLICT (attempt_id) DO NOTHING
	`, rec.AttemptID, rec.UserID, rec.MaterialID, []byte(rec.Answers),
		rec.Score, rec.TotalQuestions, avg, rec.TimeSpentSeconds, rec.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert submission rows: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateAttempt
	}
	return nil
}

func (s *SQLStore) ListForMaterials(ctx context.Context, materialIDs []int64) ([]Record, error) {
	if len(materialIDs) == 0 {
		return []Record{}, nil
	}

	placeholders := make([]string, len(materialIDs))
	args := make([]interface{}, len(materialIDs))
	for i, id := range materialIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, attempt_id, user_id, material_id, answers, score,
			total_questions, weighted_average, time_spent_seconds, submitted_at
		FROM submissions
		WHERE material_id IN (%s)
		ORDER BY submitted_at DESC, id DESC
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec Record
			avg sql.NullFloat64
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.AttemptID, &rec.UserID, &rec.MaterialID,
			&raw, &rec.Score, &rec.TotalQuestions, &avg, &rec.TimeSpentSeconds, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		rec.Answers = raw
		if avg.Valid {
			v := avg.Float64
			rec.WeightedAverage = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}
