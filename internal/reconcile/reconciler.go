// internal/reconcile/reconciler.go
// Package reconcile diffs a workflow step's desired selector list against
// the persisted assignment state and applies the minimal set of creates,
// updates and deletes inside one transaction.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
	"fps-workflow/internal/common/metrics"
	"fps-workflow/internal/directory"
	"fps-workflow/internal/models"
	"fps-workflow/internal/store"
	"fps-workflow/internal/workflow"

	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateSelector = errors.New("VALIDATION_FAILED")
)

// Dispatcher delivers one notification to one assignee. Implemented by the
// notifier; declared here so the reconciler can be tested with a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipientID, recordCode, title, message, priority string) error
}

// StepAdvancer updates the record's workflow step inside the caller's
// transaction. Implemented by the workflow tracker.
type StepAdvancer interface {
	Advance(ctx context.Context, q store.Querier, recordCode string, kind models.RecordKind, step string) error
}

// Reconciler computes and applies assignment diffs for one workflow step.
type Reconciler struct {
	store      *store.Store
	directory  *directory.Lookup
	dispatcher Dispatcher
	advancer   StepAdvancer
	logger     logger.Logger

	// dispatchConcurrency bounds the post-commit notification fan-out.
	dispatchConcurrency int
}

func New(st *store.Store, dir *directory.Lookup, dispatcher Dispatcher, advancer StepAdvancer, log logger.Logger) *Reconciler {
	return &Reconciler{
		store:               st,
		directory:           dir,
		dispatcher:          dispatcher,
		advancer:            advancer,
		logger:              log.WithFields(map[string]interface{}{"component": "reconciler"}),
		dispatchConcurrency: 8,
	}
}

// Reconcile applies the desired selector list for one (record, role) scope.
// Either every create/update/delete commits, or none does. The returned
// result carries newly created assignments; their notifications have NOT
// been dispatched yet.
func (r *Reconciler) Reconcile(ctx context.Context, recordCode, role string, desired []SelectorInput) (*Result, error) {
	return r.reconcile(ctx, recordCode, role, "", desired)
}

// SubmitStep is the full step-submission request: reconciliation and the
// workflow step advance commit in one transaction, then the notification
// fan-out for newly created assignments runs against the durable state.
func (r *Reconciler) SubmitStep(ctx context.Context, recordCode, role, step string, desired []SelectorInput) (*Result, error) {
	result, err := r.reconcile(ctx, recordCode, role, step, desired)
	if err != nil {
		return nil, err
	}
	r.DispatchNew(ctx, recordCode, result.NewAssignees)
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context, recordCode, role, step string, desired []SelectorInput) (*Result, error) {
	started := time.Now()

	merged, err := collapseDuplicates(desired)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(role, "rejected").Inc()
		return nil, stderrors.NewValidationFailedError(err.Error())
	}

	result := &Result{}
	err = r.store.WithinTx(ctx, func(tx *sql.Tx) error {
		return r.reconcileInTx(ctx, tx, recordCode, role, step, merged, result)
	})
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(role, "failed").Inc()
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return nil, stderrors.NewRecordNotFoundError(recordCode)
		case errors.Is(err, workflow.ErrUnknownStep):
			return nil, stderrors.NewValidationFailedError(err.Error())
		}
		return nil, stderrors.NewTransactionFailedError(err)
	}

	metrics.ReconciliationsTotal.WithLabelValues(role, "applied").Inc()
	metrics.ReconciliationDuration.WithLabelValues(role).Observe(time.Since(started).Seconds())

	r.logger.Info("reconciliation applied", map[string]interface{}{
		"recordCode": recordCode,
		"role":       role,
		"created":    result.Created,
		"updated":    result.Updated,
		"deleted":    result.Deleted,
		"newHelpers": len(result.NewAssignees),
	})

	return result, nil
}

func (r *Reconciler) reconcileInTx(ctx context.Context, tx *sql.Tx, recordCode, role, step string,
	desired []SelectorInput, result *Result) error {

	// Serialize same-scope reconciliations; the diff is compute-then-write
	// and a lost update would silently drop a create or delete.
	if err := store.LockScope(ctx, tx, recordCode, role); err != nil {
		return err
	}

	rec, err := store.GetRecord(ctx, tx, recordCode)
	if err != nil {
		return err
	}

	existing, err := store.ListActions(ctx, tx, recordCode, role)
	if err != nil {
		return err
	}

	existingByKey := make(map[string]*models.ActionEntry, len(existing))
	for i := range existing {
		existingByKey[existing[i].UserService] = &existing[i]
	}
	desiredByKey := make(map[string]SelectorInput, len(desired))
	for _, sel := range desired {
		desiredByKey[sel.UserService] = sel
	}

	now := time.Now().UTC()

	// Deletions cascade: drop the action row, then withdraw the role from
	// assignments the selector justified, unless another action row on the
	// record still holds the same selector.
	for i := range existing {
		e := &existing[i]
		if _, wanted := desiredByKey[e.UserService]; wanted {
			continue
		}
		if err := store.DeleteAction(ctx, tx, recordCode, role, e.UserService); err != nil {
			return err
		}
		referenced, err := store.ServiceStillReferenced(ctx, tx, recordCode, role, e.UserService)
		if err != nil {
			return err
		}
		if !referenced {
			if err := store.RemoveRoleBySelector(ctx, tx, recordCode, role, e.UserService, now); err != nil {
				return err
			}
		}
		result.Deleted++
	}

	// Creates and updates, in the caller-supplied order.
	for _, sel := range desired {
		prev, found := existingByKey[sel.UserService]
		if !found {
			if err := r.createSelector(ctx, tx, recordCode, role, sel, now, result); err != nil {
				return err
			}
			continue
		}

		// Equal content is a no-op: never rewritten, no audit noise.
		stored := SelectorInput{
			UserService:  prev.UserService,
			UserCategory: prev.UserCategory,
			What:         prev.What,
			When:         prev.When,
		}
		if stored.sameContent(sel) {
			continue
		}

		if err := store.UpdateAction(ctx, tx, recordCode, role, sel.UserService,
			sel.UserCategory, sel.What, sel.When, now); err != nil {
			return err
		}
		result.Updated++
	}

	// Step advance commits with the diff; a submission is all-or-nothing.
	if step != "" {
		if err := r.advancer.Advance(ctx, tx, recordCode, rec.Kind, step); err != nil {
			return err
		}
	}

	return nil
}

// createSelector records the action entry and resolves the selector to its
// current assignees. A selector resolving to zero assignees is a valid
// action entry with no helpers; the workflow proceeds.
func (r *Reconciler) createSelector(ctx context.Context, tx *sql.Tx, recordCode, role string,
	sel SelectorInput, now time.Time, result *Result) error {

	entry := &models.ActionEntry{
		RecordCode:   recordCode,
		Role:         role,
		UserService:  sel.UserService,
		UserCategory: sel.UserCategory,
		What:         sel.What,
		When:         sel.When,
		CreatedAt:    now,
	}
	if err := store.InsertAction(ctx, tx, entry); err != nil {
		return err
	}
	result.Created++

	users, err := r.directory.FindUsers(ctx, tx, sel.UserService, sel.UserCategory)
	if err != nil {
		return err
	}

	for _, u := range users {
		created, err := store.UpsertRole(ctx, tx, recordCode, u.ID, role, sel.UserService, now)
		if err != nil {
			return err
		}
		if created {
			result.NewAssignees = append(result.NewAssignees, NewAssignee{
				UserID:      u.ID,
				UserName:    u.Name,
				Role:        role,
				UserService: sel.UserService,
			})
		}
	}
	return nil
}

// DispatchNew fans out one notification per newly created assignment.
// Called after the reconciliation's writes are durable; a failure here
// loses at most a notification, never assignment state, and is logged
// rather than surfaced.
func (r *Reconciler) DispatchNew(ctx context.Context, recordCode string, assignees []NewAssignee) {
	if len(assignees) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.dispatchConcurrency)

	for _, a := range assignees {
		a := a
		g.Go(func() error {
			title := "New assignment"
			message := fmt.Sprintf("You have been assigned the %s role on record %s.", a.Role, recordCode)
			if err := r.dispatcher.Dispatch(gctx, a.UserID, recordCode, title, message, models.PriorityNormal); err != nil {
				r.logger.Error("notification dispatch failed", map[string]interface{}{
					"recordCode": recordCode,
					"userId":     a.UserID,
					"role":       a.Role,
					"error":      err,
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

// collapseDuplicates merges desired selectors sharing a key. Identical
// duplicates collapse to one; duplicates with differing content are a
// caller error and reject the whole submission before any write.
func collapseDuplicates(desired []SelectorInput) ([]SelectorInput, error) {
	seen := make(map[string]SelectorInput, len(desired))
	merged := make([]SelectorInput, 0, len(desired))

	for _, sel := range desired {
		prev, dup := seen[sel.UserService]
		if !dup {
			seen[sel.UserService] = sel
			merged = append(merged, sel)
			continue
		}
		if !prev.sameContent(sel) {
			return nil, fmt.Errorf("%w: conflicting duplicate selector for service %q",
				ErrDuplicateSelector, sel.UserService)
		}
	}
	return merged, nil
}
