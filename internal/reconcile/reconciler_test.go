// internal/reconcile/reconciler_test.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
	"fps-workflow/internal/directory"
	"fps-workflow/internal/models"
	"fps-workflow/internal/store"
	"fps-workflow/internal/workflow"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestLogger(t *testing.T) logger.Logger {
	return logger.NewZapAdapter(zaptest.NewLogger(t))
}

type dispatchCall struct {
	RecipientID string
	RecordCode  string
	Priority    string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, recipientID, recordCode, title, message, priority string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{RecipientID: recipientID, RecordCode: recordCode, Priority: priority})
	return f.err
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAdvancer struct {
	steps []string
	err   error
}

func (f *fakeAdvancer) Advance(ctx context.Context, q store.Querier, recordCode string,
	kind models.RecordKind, step string) error {
	f.steps = append(f.steps, step)
	return f.err
}

func newTestReconciler(t *testing.T) (*Reconciler, sqlmock.Sqlmock, *fakeDispatcher, *fakeAdvancer) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dispatcher := &fakeDispatcher{}
	advancer := &fakeAdvancer{}
	log := createTestLogger(t)
	r := New(store.New(db, log), directory.New(), dispatcher, advancer, log)
	return r, mock, dispatcher, advancer
}

func expectLock(mock sqlmock.Sqlmock, recordCode, role string) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(recordCode + ":" + role).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectRecord(mock sqlmock.Sqlmock, recordCode string, kind models.RecordKind) {
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM records WHERE code = \$1`).
		WithArgs(recordCode).
		WillReturnRows(sqlmock.NewRows([]string{
			"code", "kind", "title", "current_step", "status", "close_date", "created_at", "updated_at",
		}).AddRow(recordCode, string(kind), "leaking valve", models.StepProblem, models.StatusOpen, nil, now, now))
}

func actionColumns() []string {
	return []string{"id", "record_code", "role", "user_service", "user_category", "what", "when", "created_at", "updated_at"}
}

func expectActions(mock sqlmock.Sqlmock, recordCode, role string, rows *sqlmock.Rows) {
	mock.ExpectQuery(`FROM actions WHERE record_code = \$1 AND role = \$2`).
		WithArgs(recordCode, role).
		WillReturnRows(rows)
}

func assignmentColumns() []string {
	return []string{"id", "record_code", "user_id", "roles", "scan_status", "scanned_at", "created_at", "updated_at"}
}

// ==========================
// Core Diff Tests
// ==========================

func TestReconcile_CreateSelectorResolvesAssignees(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()))

	mock.ExpectExec(`INSERT INTO actions`).
		WithArgs(sqlmock.AnyArg(), "FPS-1", models.RoleImmediate, "maintenance", "",
			"replace the valve", "today", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery(`FROM users WHERE active = true AND service = \$1`).
		WithArgs("maintenance").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "service", "category"}).
			AddRow("u1", "Alice", "alice@plant.example", "maintenance", "mechanical").
			AddRow("u2", "Bob", "bob@plant.example", "maintenance", "electrical"))

	for _, userID := range []string{"u1", "u2"} {
		mock.ExpectQuery(`FROM assignments WHERE record_code = \$1 AND user_id = \$2`).
			WithArgs("FPS-1", userID).
			WillReturnRows(sqlmock.NewRows(assignmentColumns()))
		mock.ExpectExec(`INSERT INTO assignments`).
			WithArgs(sqlmock.AnyArg(), "FPS-1", userID, sqlmock.AnyArg(),
				models.ScanStatusUnscanned, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, []SelectorInput{
		{UserService: "maintenance", What: "replace the valve", When: "today"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Deleted)
	assert.Len(t, result.NewAssignees, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_RemoveSelectorCascadesAssignment(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()).
		AddRow("a1", "FPS-1", models.RoleImmediate, "maintenance", "", "fix", "now", now, now))

	mock.ExpectExec(`DELETE FROM actions WHERE record_code = \$1`).
		WithArgs("FPS-1", models.RoleImmediate, "maintenance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT 1 FROM actions`).
		WithArgs("FPS-1", models.RoleImmediate, "maintenance").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	// The only role came from the removed selector, so the row disappears.
	mock.ExpectQuery(`FROM assignments WHERE record_code = \$1`).
		WithArgs("FPS-1").
		WillReturnRows(sqlmock.NewRows(assignmentColumns()).
			AddRow("as1", "FPS-1", "u1", []byte(`{"immediate":"maintenance"}`),
				models.ScanStatusUnscanned, nil, now, now))
	mock.ExpectExec(`DELETE FROM assignments WHERE id = \$1`).
		WithArgs("as1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, nil)

	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 0, Updated: 0, Deleted: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_RemoveSelectorKeepsOtherRoles(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()).
		AddRow("a1", "FPS-1", models.RoleImmediate, "maintenance", "", "fix", "now", now, now))

	mock.ExpectExec(`DELETE FROM actions WHERE record_code = \$1`).
		WithArgs("FPS-1", models.RoleImmediate, "maintenance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT 1 FROM actions`).
		WithArgs("FPS-1", models.RoleImmediate, "maintenance").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	// The assignee holds a second role justified elsewhere; only the
	// withdrawn role is removed, the row stays.
	mock.ExpectQuery(`FROM assignments WHERE record_code = \$1`).
		WithArgs("FPS-1").
		WillReturnRows(sqlmock.NewRows(assignmentColumns()).
			AddRow("as1", "FPS-1", "u1", []byte(`{"immediate":"maintenance","defensive":"quality"}`),
				models.ScanStatusUnscanned, nil, now, now))
	mock.ExpectExec(`UPDATE assignments SET roles = \$2`).
		WithArgs("as1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_IdenticalResubmissionIsNoOp(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()).
		AddRow("a1", "FPS-1", models.RoleImmediate, "maintenance", "mechanical", "fix", "now", now, now))
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, []SelectorInput{
		{UserService: "maintenance", UserCategory: "mechanical", What: "fix", When: "now"},
	})

	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 0, Updated: 0, Deleted: 0}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_ContentChangeUpdatesInPlace(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()).
		AddRow("a1", "FPS-1", models.RoleImmediate, "maintenance", "", "fix", "now", now, now))

	mock.ExpectExec(`UPDATE actions SET user_category = \$4`).
		WithArgs("FPS-1", models.RoleImmediate, "maintenance", "", "replace the pump", "tomorrow", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, []SelectorInput{
		{UserService: "maintenance", What: "replace the pump", When: "tomorrow"},
	})

	require.NoError(t, err)
	assert.Equal(t, &Result{Created: 0, Updated: 1, Deleted: 0}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_RoleAccumulatesOnExistingAssignment(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleDefensive)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleDefensive, sqlmock.NewRows(actionColumns()))

	mock.ExpectExec(`INSERT INTO actions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM users WHERE active = true AND service = \$1`).
		WithArgs("quality").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "service", "category"}).
			AddRow("u1", "Alice", "alice@plant.example", "quality", ""))

	// u1 already holds the immediate role on this record: the row is
	// updated, never duplicated, and no creation notification is owed.
	mock.ExpectQuery(`FROM assignments WHERE record_code = \$1 AND user_id = \$2`).
		WithArgs("FPS-1", "u1").
		WillReturnRows(sqlmock.NewRows(assignmentColumns()).
			AddRow("as1", "FPS-1", "u1", []byte(`{"immediate":"maintenance"}`),
				models.ScanStatusUnscanned, nil, now, now))
	mock.ExpectExec(`UPDATE assignments SET roles = \$2`).
		WithArgs("as1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleDefensive, []SelectorInput{
		{UserService: "quality"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.NewAssignees)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_ZeroAssigneeSelectorIsValid(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()))

	mock.ExpectExec(`INSERT INTO actions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM users WHERE active = true AND service = \$1`).
		WithArgs("night-shift").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "service", "category"}))
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, []SelectorInput{
		{UserService: "night-shift"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.NewAssignees)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Input Validation Tests
// ==========================

func TestReconcile_ConflictingDuplicateSelectorsRejected(t *testing.T) {
	r, _, _, _ := newTestReconciler(t)

	_, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, []SelectorInput{
		{UserService: "maintenance", What: "fix the pump"},
		{UserService: "maintenance", What: "fix the valve"},
	})

	require.Error(t, err)
	se, ok := err.(*stderrors.StandardError)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeValidationFailed, se.Code)
}

func TestReconcile_IdenticalDuplicateSelectorsCollapse(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()))

	// One insert despite two identical desired entries.
	mock.ExpectExec(`INSERT INTO actions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM users WHERE active = true AND service = \$1`).
		WithArgs("maintenance").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "service", "category"}))
	mock.ExpectCommit()

	result, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, []SelectorInput{
		{UserService: "maintenance", What: "fix"},
		{UserService: "maintenance", What: "fix"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Failure Handling Tests
// ==========================

func TestReconcile_RecordNotFound(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)

	mock.ExpectBegin()
	expectLock(mock, "FPS-404", models.RoleImmediate)
	mock.ExpectQuery(`FROM records WHERE code = \$1`).
		WithArgs("FPS-404").
		WillReturnRows(sqlmock.NewRows([]string{
			"code", "kind", "title", "current_step", "status", "close_date", "created_at", "updated_at",
		}))
	mock.ExpectRollback()

	_, err := r.Reconcile(context.Background(), "FPS-404", models.RoleImmediate, nil)

	require.Error(t, err)
	se, ok := err.(*stderrors.StandardError)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeRecordNotFound, se.Code)
	assert.False(t, se.Retryable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_WriteFailureRollsBackEverything(t *testing.T) {
	r, mock, _, _ := newTestReconciler(t)

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()))

	mock.ExpectExec(`INSERT INTO actions`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := r.Reconcile(context.Background(), "FPS-1", models.RoleImmediate, []SelectorInput{
		{UserService: "maintenance"},
	})

	require.Error(t, err)
	se, ok := err.(*stderrors.StandardError)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeTransactionFailed, se.Code)
	assert.True(t, se.Retryable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Step Submission Tests
// ==========================

func TestSubmitStep_AdvancesStepAndDispatches(t *testing.T) {
	r, mock, dispatcher, advancer := newTestReconciler(t)

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()))

	mock.ExpectExec(`INSERT INTO actions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM users WHERE active = true AND service = \$1`).
		WithArgs("maintenance").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "service", "category"}).
			AddRow("u1", "Alice", "alice@plant.example", "maintenance", ""))
	mock.ExpectQuery(`FROM assignments WHERE record_code = \$1 AND user_id = \$2`).
		WithArgs("FPS-1", "u1").
		WillReturnRows(sqlmock.NewRows(assignmentColumns()))
	mock.ExpectExec(`INSERT INTO assignments`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := r.SubmitStep(context.Background(), "FPS-1", models.RoleImmediate,
		models.StepImmediateActions, []SelectorInput{{UserService: "maintenance"}})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, []string{models.StepImmediateActions}, advancer.steps)
	assert.Equal(t, 1, dispatcher.callCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitStep_DispatchFailureDoesNotFailSubmission(t *testing.T) {
	r, mock, dispatcher, _ := newTestReconciler(t)
	dispatcher.err = errors.New("sns unavailable")

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()))

	mock.ExpectExec(`INSERT INTO actions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM users WHERE active = true AND service = \$1`).
		WithArgs("maintenance").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "service", "category"}).
			AddRow("u1", "Alice", "alice@plant.example", "maintenance", ""))
	mock.ExpectQuery(`FROM assignments WHERE record_code = \$1 AND user_id = \$2`).
		WithArgs("FPS-1", "u1").
		WillReturnRows(sqlmock.NewRows(assignmentColumns()))
	mock.ExpectExec(`INSERT INTO assignments`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := r.SubmitStep(context.Background(), "FPS-1", models.RoleImmediate,
		models.StepImmediateActions, []SelectorInput{{UserService: "maintenance"}})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestSubmitStep_AdvanceFailureRollsBack(t *testing.T) {
	r, mock, dispatcher, advancer := newTestReconciler(t)
	advancer.err = fmt.Errorf("%w: %q is not an fps step", workflow.ErrUnknownStep, "bogus")

	mock.ExpectBegin()
	expectLock(mock, "FPS-1", models.RoleImmediate)
	expectRecord(mock, "FPS-1", models.RecordKindFPS)
	expectActions(mock, "FPS-1", models.RoleImmediate, sqlmock.NewRows(actionColumns()))
	mock.ExpectRollback()

	_, err := r.SubmitStep(context.Background(), "FPS-1", models.RoleImmediate, "bogus", nil)

	require.Error(t, err)
	se, ok := err.(*stderrors.StandardError)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeValidationFailed, se.Code)
	assert.Equal(t, 0, dispatcher.callCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}
