// internal/models/user.go
package models

// UserIdentity is a directory user referenced by identity only. The engine
// never creates or deletes users.
type UserIdentity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Service  string `json:"service"`
	Category string `json:"category"`
}

// PushTarget is one registered push destination for a user. A user may have
// several (one per device); none is not an error.
type PushTarget struct {
	UserID      string `json:"userId"`
	EndpointARN string `json:"endpointArn"`
	Active      bool   `json:"active"`
}
