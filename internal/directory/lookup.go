// internal/directory/lookup.go
// Package directory resolves role selectors to the current set of user
// identities. The engine only reads the directory; it never creates or
// deletes users.
package directory

import (
	"context"
	"fmt"

	"fps-workflow/internal/models"
	"fps-workflow/internal/store"
)

// Lookup resolves (service, category) selectors against the users table.
type Lookup struct{}

func New() *Lookup {
	return &Lookup{}
}

// FindUsers returns the active users of one directory segment. An empty
// category matches every category within the service. Zero matches is a
// valid result, not an error.
func (l *Lookup) FindUsers(ctx context.Context, q store.Querier, service, category string) ([]models.UserIdentity, error) {
	query := `
		SELECT id, name, email, service, category
		FROM users
		WHERE active = true AND service = $1`
	args := []interface{}{service}

	if category != "" {
		query += ` AND category = $2`
		args = append(args, category)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer rows.Close()

	var users []models.UserIdentity
	for rows.Next() {
		var u models.UserIdentity
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Service, &u.Category); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
