// internal/workflow/tracker.go
// Package workflow advances a record's current-step field and handles the
// terminal validation transition.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
	"fps-workflow/internal/models"
	"fps-workflow/internal/store"
)

var ErrUnknownStep = errors.New("UNKNOWN_STEP")

// Broadcaster notifies every current helper of a record; implemented by
// the notifier.
type Broadcaster interface {
	Broadcast(ctx context.Context, recordCode, title, message, priority string) error
}

// Tracker owns workflow state transitions for both record kinds.
type Tracker struct {
	store       *store.Store
	broadcaster Broadcaster
	logger      logger.Logger
}

func New(st *store.Store, broadcaster Broadcaster, log logger.Logger) *Tracker {
	return &Tracker{
		store:       st,
		broadcaster: broadcaster,
		logger:      log.WithFields(map[string]interface{}{"component": "workflow"}),
	}
}

// Advance sets the record's current step. Submissions may be resubmitted
// or arrive out of order; only the step name itself is checked. Runs
// against the caller's transaction.
func (t *Tracker) Advance(ctx context.Context, q store.Querier, recordCode string,
	kind models.RecordKind, step string) error {

	switch kind {
	case models.RecordKindFPS:
		if !models.KnownFpsStep(step) {
			return fmt.Errorf("%w: %q is not an fps step", ErrUnknownStep, step)
		}
	case models.RecordKindTag:
		if !models.KnownTagStep(step) {
			return fmt.Errorf("%w: %q is not a tag step", ErrUnknownStep, step)
		}
	default:
		return fmt.Errorf("%w: unknown record kind %q", ErrUnknownStep, kind)
	}

	return store.SetStep(ctx, q, recordCode, step, time.Now().UTC())
}

// Finalize applies the terminal transition: status and closure timestamp
// are written in one transaction, then the outcome is broadcast to every
// current helper of the record, not just newly added ones.
func (t *Tracker) Finalize(ctx context.Context, recordCode, status string) (*models.Record, error) {
	if status != models.StatusCompleted && status != models.StatusFailed {
		return nil, stderrors.NewValidationFailedError(
			fmt.Sprintf("%s: terminal status must be completed or failed", status))
	}

	var rec *models.Record
	err := t.store.WithinTx(ctx, func(tx *sql.Tx) error {
		loaded, err := store.GetRecord(ctx, tx, recordCode)
		if err != nil {
			return err
		}

		closedAt := time.Now().UTC()
		finalStep := models.StepValidation
		if loaded.Kind == models.RecordKindTag {
			finalStep = models.TagStepDone
		}

		if err := store.SetStep(ctx, tx, recordCode, finalStep, closedAt); err != nil {
			return err
		}
		if err := store.CloseRecord(ctx, tx, recordCode, status, closedAt); err != nil {
			return err
		}

		loaded.CurrentStep = finalStep
		loaded.Status = status
		loaded.CloseDate = &closedAt
		rec = loaded
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, stderrors.NewRecordNotFoundError(recordCode)
		}
		return nil, stderrors.NewTransactionFailedError(err)
	}

	t.logger.Info("record finalized", map[string]interface{}{
		"recordCode": recordCode,
		"status":     status,
	})

	// Outcome broadcast after the closure is durable. Losing it costs a
	// notification, never record state.
	title := fmt.Sprintf("Record %s closed", recordCode)
	message := fmt.Sprintf("Record %s was closed with outcome %q.", recordCode, status)
	if err := t.broadcaster.Broadcast(ctx, recordCode, title, message, models.PriorityHigh); err != nil {
		t.logger.Error("closure broadcast failed", map[string]interface{}{
			"recordCode": recordCode,
			"error":      err,
		})
	}

	return rec, nil
}
