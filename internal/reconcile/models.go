// internal/reconcile/models.go
package reconcile

// SelectorInput is one desired selector with its step content, as supplied
// by the caller. Selectors never carry server-assigned IDs across
// resubmissions; the natural key within a (record, role) scope is
// UserService.
type SelectorInput struct {
	UserService  string `json:"userService"`
	UserCategory string `json:"userCategory"`
	What         string `json:"what"`
	When         string `json:"when"`
}

// sameContent reports whether two inputs agree on every non-key field.
func (s SelectorInput) sameContent(o SelectorInput) bool {
	return s.UserCategory == o.UserCategory && s.What == o.What && s.When == o.When
}

// NewAssignee is one freshly created assignment pending notification
// dispatch after the transaction commits.
type NewAssignee struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Role        string `json:"role"`
	UserService string `json:"userService"`
}

// Result reports the applied diff of one reconciliation. Counts refer to
// selectors, not assignments; NewAssignees carries the notification
// fan-out the caller owes after commit.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`

	NewAssignees []NewAssignee `json:"-"`
}
