// internal/store/records.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fps-workflow/internal/models"
)

var (
	ErrRecordNotFound = errors.New("RECORD_NOT_FOUND")
	ErrDuplicateCode  = errors.New("DUPLICATE_RECORD")
)

// CreateRecord inserts a new record. The code is immutable afterwards;
// inserting an existing code fails with ErrDuplicateCode and no mutation.
func CreateRecord(ctx context.Context, q Querier, rec *models.Record) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE code = $1)`, rec.Code).Scan(&exists)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: record code %s already exists", ErrDuplicateCode, rec.Code)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO records (code, kind, title, current_step, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		rec.Code, rec.Kind, rec.Title, rec.CurrentStep, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetRecord loads one record by its external code.
func GetRecord(ctx context.Context, q Querier, code string) (*models.Record, error) {
	var rec models.Record
	var closeDate sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT code, kind, title, current_step, status, close_date, created_at, updated_at
		FROM records WHERE code = $1`, code).
		Scan(&rec.Code, &rec.Kind, &rec.Title, &rec.CurrentStep, &rec.Status,
			&closeDate, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if closeDate.Valid {
		rec.CloseDate = &closeDate.Time
	}
	return &rec, nil
}

// SetStep sets the record's current workflow step. Step submissions may be
// resubmitted or arrive out of order; the step is written unconditionally.
func SetStep(ctx context.Context, q Querier, code, step string, now time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE records SET current_step = $2, updated_at = $3 WHERE code = $1`,
		code, step, now,
	)
	if err != nil {
		return fmt.Errorf("set step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, code)
	}
	return nil
}

// CloseRecord writes the terminal status and stamps the closure date used
// by reporting.
func CloseRecord(ctx context.Context, q Querier, code, status string, closedAt time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE records SET status = $2, close_date = $3, updated_at = $3 WHERE code = $1`,
		code, status, closedAt,
	)
	if err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, code)
	}
	return nil
}
