// internal/store/assignments.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fps-workflow/internal/models"

	"github.com/google/uuid"
)

var ErrAssignmentNotFound = errors.New("ASSIGNMENT_NOT_FOUND")

func scanAssignment(scan func(dest ...interface{}) error) (*models.Assignment, error) {
	var a models.Assignment
	var rolesRaw []byte
	var scannedAt sql.NullTime
	if err := scan(&a.ID, &a.RecordCode, &a.UserID, &rolesRaw, &a.ScanStatus,
		&scannedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rolesRaw, &a.Roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	if scannedAt.Valid {
		a.ScannedAt = &scannedAt.Time
	}
	return &a, nil
}

// ListAssignments loads every assignment row of one record.
func ListAssignments(ctx context.Context, q Querier, recordCode string) ([]models.Assignment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, record_code, user_id, roles, scan_status, scanned_at, created_at, updated_at
		FROM assignments
		WHERE record_code = $1
		ORDER BY user_id`,
		recordCode,
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

// GetAssignment loads the single assignment row of (record, user).
// Returns ErrAssignmentNotFound when absent.
func GetAssignment(ctx context.Context, q Querier, recordCode, userID string) (*models.Assignment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, record_code, user_id, roles, scan_status, scanned_at, created_at, updated_at
		FROM assignments
		WHERE record_code = $1 AND user_id = $2`,
		recordCode, userID,
	)
	a, err := scanAssignment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: record %s user %s", ErrAssignmentNotFound, recordCode, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	return a, nil
}

// UpsertRole grants a role to an assignee on a record. At most one row
// exists per (record, user): a first role creates the row in unscanned
// state, later roles accumulate on it without duplication. Returns whether
// the row was newly created, which is what triggers a notification.
func UpsertRole(ctx context.Context, q Querier, recordCode, userID, role, userService string, now time.Time) (bool, error) {
	existing, err := GetAssignment(ctx, q, recordCode, userID)
	if err != nil && !errors.Is(err, ErrAssignmentNotFound) {
		return false, err
	}

	if existing == nil {
		roles, err := json.Marshal(map[string]string{role: userService})
		if err != nil {
			return false, fmt.Errorf("encode roles: %w", err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO assignments (id, record_code, user_id, roles, scan_status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			uuid.New().String(), recordCode, userID, roles, models.ScanStatusUnscanned, now,
		)
		if err != nil {
			return false, fmt.Errorf("insert assignment: %w", err)
		}
		return true, nil
	}

	if _, held := existing.Roles[role]; held {
		// Role already accumulated; nothing to write.
		return false, nil
	}

	existing.Roles[role] = userService
	roles, err := json.Marshal(existing.Roles)
	if err != nil {
		return false, fmt.Errorf("encode roles: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`UPDATE assignments SET roles = $2, updated_at = $3 WHERE id = $1`,
		existing.ID, roles, now,
	)
	if err != nil {
		return false, fmt.Errorf("append role: %w", err)
	}
	return false, nil
}

// RemoveRoleBySelector withdraws a role from every assignment whose role
// was justified by the removed selector. An assignment row is deleted only
// when this empties its accumulated role set; otherwise the remaining
// roles are kept.
func RemoveRoleBySelector(ctx context.Context, q Querier, recordCode, role, userService string, now time.Time) error {
	assignments, err := ListAssignments(ctx, q, recordCode)
	if err != nil {
		return err
	}

	for i := range assignments {
		a := &assignments[i]
		if a.Roles[role] != userService {
			continue
		}

		delete(a.Roles, role)
		if len(a.Roles) == 0 {
			if _, err := q.ExecContext(ctx,
				`DELETE FROM assignments WHERE id = $1`, a.ID); err != nil {
				return fmt.Errorf("delete assignment: %w", err)
			}
			continue
		}

		roles, err := json.Marshal(a.Roles)
		if err != nil {
			return fmt.Errorf("encode roles: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE assignments SET roles = $2, updated_at = $3 WHERE id = $1`,
			a.ID, roles, now); err != nil {
			return fmt.Errorf("withdraw role: %w", err)
		}
	}
	return nil
}

// ListHelpers returns the record's assignments joined with assignee
// identity and scan status, as exposed by the helpers endpoint.
func ListHelpers(ctx context.Context, q Querier, recordCode string) ([]models.Helper, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.record_code, a.user_id, a.roles, a.scan_status, a.scanned_at,
		       a.created_at, a.updated_at, u.name, u.email, u.service, u.category
		FROM assignments a
		JOIN users u ON u.id = a.user_id
		WHERE a.record_code = $1
		ORDER BY u.name`,
		recordCode,
	)
	if err != nil {
		return nil, fmt.Errorf("list helpers: %w", err)
	}
	defer rows.Close()

	var helpers []models.Helper
	for rows.Next() {
		var h models.Helper
		var rolesRaw []byte
		var scannedAt sql.NullTime
		if err := rows.Scan(&h.ID, &h.RecordCode, &h.UserID, &rolesRaw, &h.ScanStatus,
			&scannedAt, &h.CreatedAt, &h.UpdatedAt,
			&h.UserName, &h.UserEmail, &h.Service, &h.Category); err != nil {
			return nil, fmt.Errorf("scan helper: %w", err)
		}
		if err := json.Unmarshal(rolesRaw, &h.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
		if scannedAt.Valid {
			h.ScannedAt = &scannedAt.Time
		}
		helpers = append(helpers, h)
	}
	return helpers, rows.Err()
}
