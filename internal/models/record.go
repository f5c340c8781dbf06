// internal/models/record.go
package models

import "time"

// RecordKind distinguishes incident records from maintenance tags.
type RecordKind string

const (
	RecordKindFPS RecordKind = "fps"
	RecordKindTag RecordKind = "tag"
)

// Workflow steps for an FPS record. A step submission sets CurrentStep
// unconditionally; out-of-order resubmission is allowed.
const (
	StepProblem          = "problem"
	StepImmediateActions = "immediateActions"
	StepCause            = "cause"
	StepDefensiveActions = "defensiveActions"
	StepValidation       = "validation"
)

// Workflow steps for a tag record.
const (
	TagStepOpen = "open"
	TagStepToDo = "toDo"
	TagStepDone = "done"
)

// Terminal statuses set by final validation.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Role tags attached to assignments within a record.
const (
	RoleImmediate = "immediate"
	RoleSorting   = "sorting"
	RoleDefensive = "defensive"
	RoleTagAction = "tagAction"
)

// Record is an FPS incident or maintenance tag tracked through a workflow.
// Code is the external-facing identifier: generated once, immutable,
// globally unique. Records are never hard-deleted.
type Record struct {
	Code        string     `json:"code"`
	Kind        RecordKind `json:"kind"`
	Title       string     `json:"title"`
	CurrentStep string     `json:"currentStep"`
	Status      string     `json:"status"`
	CloseDate   *time.Time `json:"closeDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsClosed reports whether the record reached a terminal state.
func (r *Record) IsClosed() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// KnownFpsStep reports whether step is a valid FPS workflow step name.
func KnownFpsStep(step string) bool {
	switch step {
	case StepProblem, StepImmediateActions, StepCause, StepDefensiveActions, StepValidation:
		return true
	}
	return false
}

// KnownTagStep reports whether step is a valid tag workflow step name.
func KnownTagStep(step string) bool {
	switch step {
	case TagStepOpen, TagStepToDo, TagStepDone:
		return true
	}
	return false
}
