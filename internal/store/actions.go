// internal/store/actions.go
package store

import (
	"context"
	"fmt"
	"time"

	"fps-workflow/internal/models"

	"github.com/google/uuid"
)

// ListActions loads the persisted action entries for one (record, role)
// scope, ordered by selector key for deterministic diffing.
func ListActions(ctx context.Context, q Querier, recordCode, role string) ([]models.ActionEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, record_code, role, user_service, user_category, what, "when", created_at, updated_at
		FROM actions
		WHERE record_code = $1 AND role = $2
		ORDER BY user_service`,
		recordCode, role,
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var entries []models.ActionEntry
	for rows.Next() {
		var e models.ActionEntry
		if err := rows.Scan(&e.ID, &e.RecordCode, &e.Role, &e.UserService, &e.UserCategory,
			&e.What, &e.When, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertAction creates the content row for a new selector.
func InsertAction(ctx context.Context, q Querier, e *models.ActionEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO actions (id, record_code, role, user_service, user_category, what, "when", created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		e.ID, e.RecordCode, e.Role, e.UserService, e.UserCategory, e.What, e.When, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// UpdateAction rewrites the content fields of an existing selector's entry
// in place. Membership is unchanged, so no assignment side effects.
func UpdateAction(ctx context.Context, q Querier, recordCode, role, userService string,
	userCategory, what, when string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE actions SET user_category = $4, what = $5, "when" = $6, updated_at = $7
		WHERE record_code = $1 AND role = $2 AND user_service = $3`,
		recordCode, role, userService, userCategory, what, when, now,
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	return nil
}

// DeleteAction removes the content row for a selector dropped from the
// desired list.
func DeleteAction(ctx context.Context, q Querier, recordCode, role, userService string) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM actions WHERE record_code = $1 AND role = $2 AND user_service = $3`,
		recordCode, role, userService,
	)
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

// ServiceStillReferenced reports whether any remaining action row on the
// record still targets the given service. The deletion cascade keeps an
// assignment's role justification alive while another action row holds the
// same selector.
func ServiceStillReferenced(ctx context.Context, q Querier, recordCode, role, userService string) (bool, error) {
	var referenced bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM actions
			WHERE record_code = $1 AND role = $2 AND user_service = $3
		)`, recordCode, role, userService).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("reference check: %w", err)
	}
	return referenced, nil
}
