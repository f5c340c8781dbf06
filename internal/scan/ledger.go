// internal/scan/ledger.go
// Package scan records per-assignee QR scan completion and serves the
// derived progress statistics.
package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
	"fps-workflow/internal/common/metrics"
	"fps-workflow/internal/models"
	"fps-workflow/internal/store"
)

// Ledger tracks scan completion on assignment rows.
type Ledger struct {
	store  *store.Store
	logger logger.Logger
}

func New(st *store.Store, log logger.Logger) *Ledger {
	return &Ledger{
		store:  st,
		logger: log.WithFields(map[string]interface{}{"component": "scan"}),
	}
}

// MarkScanned records a scan confirmation and returns the previous status.
// Idempotent: marking an already-scanned assignment is a no-op returning
// the unchanged status.
func (l *Ledger) MarkScanned(ctx context.Context, recordCode, userID string) (string, error) {
	previous := models.ScanStatusUnscanned

	err := l.store.WithinTx(ctx, func(tx *sql.Tx) error {
		assignment, err := store.GetAssignment(ctx, tx, recordCode, userID)
		if err != nil {
			return err
		}

		previous = assignment.ScanStatus
		if previous == models.ScanStatusScanned {
			return nil
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE assignments SET scan_status = $2, scanned_at = $3, updated_at = $3
			WHERE id = $1`,
			assignment.ID, models.ScanStatusScanned, now,
		)
		if err != nil {
			return fmt.Errorf("mark scanned: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrAssignmentNotFound) {
			return "", stderrors.NewAssignmentNotFoundError(recordCode, userID)
		}
		return "", stderrors.NewTransactionFailedError(err)
	}

	if previous == models.ScanStatusScanned {
		metrics.ScanMarksTotal.WithLabelValues("repeat").Inc()
	} else {
		metrics.ScanMarksTotal.WithLabelValues("new").Inc()
		l.logger.Info("scan recorded", map[string]interface{}{
			"recordCode": recordCode,
			"userId":     userID,
		})
	}

	return previous, nil
}

// RecordStats is the scanned/unscanned split of one record's assignments.
type RecordStats struct {
	RecordCode string `json:"recordCode"`
	Scanned    int    `json:"scanned"`
	Unscanned  int    `json:"unscanned"`
}

// Stats aggregates the record's scan progress from the ledger. A derived
// read-only view, no stored state.
func (l *Ledger) Stats(ctx context.Context, recordCode string) (*RecordStats, error) {
	stats := &RecordStats{RecordCode: recordCode}
	err := l.store.DB().QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE scan_status = 'scanned'),
			COUNT(*) FILTER (WHERE scan_status = 'unscanned')
		FROM assignments
		WHERE record_code = $1`,
		recordCode).Scan(&stats.Scanned, &stats.Unscanned)
	if err != nil {
		return nil, fmt.Errorf("record scan stats: %w", err)
	}
	return stats, nil
}

// MonthBucket is one month's scanned/unscanned totals.
type MonthBucket struct {
	Month     string `json:"month"` // YYYY-MM
	Scanned   int    `json:"scanned"`
	Unscanned int    `json:"unscanned"`
}

// MonthlyStats buckets scan progress by assignment creation month for one
// year.
func (l *Ledger) MonthlyStats(ctx context.Context, year int) ([]MonthBucket, error) {
	rows, err := l.store.DB().QueryContext(ctx, `
		SELECT
			to_char(date_trunc('month', created_at), 'YYYY-MM') AS month,
			COUNT(*) FILTER (WHERE scan_status = 'scanned'),
			COUNT(*) FILTER (WHERE scan_status = 'unscanned')
		FROM assignments
		WHERE date_part('year', created_at) = $1
		GROUP BY month
		ORDER BY month`,
		year,
	)
	if err != nil {
		return nil, fmt.Errorf("monthly scan stats: %w", err)
	}
	defer rows.Close()

	var buckets []MonthBucket
	for rows.Next() {
		var b MonthBucket
		if err := rows.Scan(&b.Month, &b.Scanned, &b.Unscanned); err != nil {
			return nil, fmt.Errorf("scan month bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
