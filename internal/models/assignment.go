// internal/models/assignment.go
package models

import (
	"sort"
	"time"
)

// Selector identifies a directory segment: the (service, category) pair a
// workflow step targets when assigning responsible staff. Selectors are
// embedded in action entries and desired-list payloads, never persisted
// standalone.
type Selector struct {
	UserService  string `json:"userService"`
	UserCategory string `json:"userCategory"`
}

// ActionEntry is the content tied to one selector within a workflow step:
// who does what, and when. One row per (record, role, userService).
// Reconciled by selector equality, not by surrogate ID.
type ActionEntry struct {
	ID           string    `json:"id"`
	RecordCode   string    `json:"recordCode"`
	Role         string    `json:"role"`
	UserService  string    `json:"userService"`
	UserCategory string    `json:"userCategory"`
	What         string    `json:"what"`
	When         string    `json:"when"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Selector returns the selector that keys this entry.
func (a *ActionEntry) Selector() Selector {
	return Selector{UserService: a.UserService, UserCategory: a.UserCategory}
}

// SameContent reports whether the non-key content fields of both entries
// match. Equal content makes a resubmission a no-op.
func (a *ActionEntry) SameContent(b *ActionEntry) bool {
	return a.UserCategory == b.UserCategory && a.What == b.What && a.When == b.When
}

// Scan status of one assignment.
const (
	ScanStatusUnscanned = "unscanned"
	ScanStatusScanned   = "scanned"
)

// Assignment links one record to one assignee with the set of roles they
// currently hold. At most one row exists per (record, user); a user gaining
// a second role on the same record accumulates it instead of duplicating
// the row. Roles maps role tag to the userService whose selector justified
// it, which is what the deletion cascade consults.
type Assignment struct {
	ID         string            `json:"id"`
	RecordCode string            `json:"recordCode"`
	UserID     string            `json:"userId"`
	Roles      map[string]string `json:"roles"`
	ScanStatus string            `json:"scanStatus"`
	ScannedAt  *time.Time        `json:"scannedAt,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// RoleNames returns the accumulated role tags in sorted order.
func (a *Assignment) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for role := range a.Roles {
		names = append(names, role)
	}
	sort.Strings(names)
	return names
}

// HasRole reports whether the assignee currently holds the given role.
func (a *Assignment) HasRole(role string) bool {
	_, ok := a.Roles[role]
	return ok
}

// Helper is an assignment joined with the assignee's directory identity,
// as returned by the helpers listing.
type Helper struct {
	Assignment
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
	Service   string `json:"service"`
	Category  string `json:"category"`
}
