// internal/api/handlers.go
// Package api exposes the workflow engine over HTTP. Handlers validate and
// authorize, then delegate to the domain services; no business rules live
// here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
	"fps-workflow/internal/common/validation"
	"fps-workflow/internal/models"
	"fps-workflow/internal/reconcile"
	"fps-workflow/internal/scan"
	"fps-workflow/internal/store"
)

// ReconcileService applies a step submission's assignment diff.
type ReconcileService interface {
	SubmitStep(ctx context.Context, recordCode, role, step string, desired []reconcile.SelectorInput) (*reconcile.Result, error)
}

// FinalizeService applies the terminal workflow transition.
type FinalizeService interface {
	Finalize(ctx context.Context, recordCode, status string) (*models.Record, error)
}

// NotificationService serves a user's notification feed.
type NotificationService interface {
	List(ctx context.Context, recipientID string) ([]models.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, notificationID string) error
}

// ScanService records scan confirmations and serves the derived stats.
type ScanService interface {
	MarkScanned(ctx context.Context, recordCode, userID string) (string, error)
	Stats(ctx context.Context, recordCode string) (*scan.RecordStats, error)
	MonthlyStats(ctx context.Context, year int) ([]scan.MonthBucket, error)
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	store         *store.Store
	reconciler    ReconcileService
	finalizer     FinalizeService
	notifications NotificationService
	scans         ScanService
	logger        logger.Logger
}

func NewHandler(st *store.Store, rec ReconcileService, fin FinalizeService,
	notif NotificationService, scans ScanService, log logger.Logger) *Handler {
	return &Handler{
		store:         st,
		reconciler:    rec,
		finalizer:     fin,
		notifications: notif,
		scans:         scans,
		logger:        log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

type createRecordRequest struct {
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

// CreateRecord opens a new record. The code is generated server-side when
// omitted; supplying an existing code is a conflict, never an overwrite.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, stderrors.NewValidationFailedError("unreadable request body"))
		return
	}

	result, err := validation.ValidateRecordCreate(body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !result.Valid {
		writeError(w, h.logger, stderrors.NewValidationFailedError(result.ErrorSummary()))
		return
	}

	var req createRecordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.logger, stderrors.NewValidationFailedError(err.Error()))
		return
	}

	kind := models.RecordKind(req.Kind)
	code := req.Code
	if code == "" {
		code = generateCode(kind)
	}

	initialStep := models.StepProblem
	if kind == models.RecordKindTag {
		initialStep = models.TagStepOpen
	}

	rec := &models.Record{
		Code:        code,
		Kind:        kind,
		Title:       req.Title,
		CurrentStep: initialStep,
		Status:      models.StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	rec.UpdatedAt = rec.CreatedAt

	if err := store.CreateRecord(r.Context(), h.store.DB(), rec); err != nil {
		if errors.Is(err, store.ErrDuplicateCode) {
			writeError(w, h.logger, stderrors.NewDuplicateRecordError(code))
			return
		}
		writeError(w, h.logger, stderrors.NewTransactionFailedError(err))
		return
	}

	h.logger.Info("record created", map[string]interface{}{
		"recordCode": code,
		"kind":       kind,
	})
	writeJSON(w, http.StatusCreated, rec)
}

// generateCode mints the external record identifier, kind-prefixed and
// derived from a fresh UUID.
func generateCode(kind models.RecordKind) string {
	id := strings.ToUpper(strings.SplitN(uuid.New().String(), "-", 2)[0])
	if kind == models.RecordKindTag {
		return "TAG-" + id
	}
	return "FPS-" + id
}

// GetRecord serves one record by code.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "id")
	rec, err := store.GetRecord(r.Context(), h.store.DB(), code)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, h.logger, stderrors.NewRecordNotFoundError(code))
			return
		}
		writeError(w, h.logger, stderrors.NewTransactionFailedError(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type stepSubmissionRequest struct {
	Selectors []reconcile.SelectorInput `json:"selectors"`
}

// SubmitStep validates the submission payload, reconciles the step's
// assignments and advances the workflow. Steps that carry no assignment
// role accept only an empty selector list.
func (h *Handler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "id")
	step := chi.URLParam(r, "step")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, h.logger, stderrors.NewValidationFailedError("unreadable request body"))
		return
	}

	result, err := validation.ValidateStepSubmission(body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !result.Valid {
		writeError(w, h.logger, stderrors.NewValidationFailedError(result.ErrorSummary()))
		return
	}

	var req stepSubmissionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.logger, stderrors.NewValidationFailedError(err.Error()))
		return
	}

	role, hasRole := roleForStep(step)
	if !hasRole && len(req.Selectors) > 0 {
		writeError(w, h.logger, stderrors.NewValidationFailedError(
			"step "+step+" does not accept assignment selectors"))
		return
	}

	diff, err := h.reconciler.SubmitStep(r.Context(), code, role, step, req.Selectors)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	rec, err := store.GetRecord(r.Context(), h.store.DB(), code)
	if err != nil {
		writeError(w, h.logger, stderrors.NewTransactionFailedError(err))
		return
	}
	writeJSON(w, http.StatusOK, stepSubmissionResponse{Result: diff, Record: rec})
}

// stepSubmissionResponse is the applied diff plus the updated record
// projection.
type stepSubmissionResponse struct {
	*reconcile.Result
	Record *models.Record `json:"record"`
}

// roleForStep maps a workflow step to the assignment role its selectors
// carry. Steps without a role only advance workflow state.
func roleForStep(step string) (string, bool) {
	switch step {
	case models.StepImmediateActions:
		return models.RoleImmediate, true
	case models.StepCause:
		return models.RoleSorting, true
	case models.StepDefensiveActions:
		return models.RoleDefensive, true
	case models.TagStepToDo:
		return models.RoleTagAction, true
	}
	return "", false
}

type validateRequest struct {
	Status string `json:"status"`
}

// ValidateRecord applies the terminal transition and broadcasts the
// outcome to every helper.
func (h *Handler) ValidateRecord(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "id")

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, stderrors.NewValidationFailedError(err.Error()))
		return
	}

	rec, err := h.finalizer.Finalize(r.Context(), code, req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListHelpers serves the record's current helpers with their accumulated
// roles and scan status.
func (h *Handler) ListHelpers(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "id")
	helpers, err := store.ListHelpers(r.Context(), h.store.DB(), code)
	if err != nil {
		writeError(w, h.logger, stderrors.NewTransactionFailedError(err))
		return
	}
	if helpers == nil {
		helpers = []models.Helper{}
	}
	writeJSON(w, http.StatusOK, helpers)
}

// MarkScanned records a QR scan confirmation for an assignee.
func (h *Handler) MarkScanned(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "recordID")
	userID := chi.URLParam(r, "userID")

	if !requireSelfOrAdmin(w, r, h.logger, userID) {
		return
	}

	previous, err := h.scans.MarkScanned(r.Context(), code, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"recordCode":     code,
		"userId":         userID,
		"previousStatus": previous,
		"status":         models.ScanStatusScanned,
	})
}

// ListNotifications serves a user's notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !requireSelfOrAdmin(w, r, h.logger, userID) {
		return
	}

	list, err := h.notifications.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// UnreadCount serves a user's unread notification count.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !requireSelfOrAdmin(w, r, h.logger, userID) {
		return
	}

	count, err := h.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// MarkNotificationRead acknowledges one notification.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.notifications.MarkRead(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "read": "true"})
}

// RecordScanStats serves one record's scanned/unscanned split.
func (h *Handler) RecordScanStats(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "id")
	stats, err := h.scans.Stats(r.Context(), code)
	if err != nil {
		writeError(w, h.logger, stderrors.NewTransactionFailedError(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// MonthlyScanStats serves the per-month scan progress of one year.
func (h *Handler) MonthlyScanStats(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, h.logger, stderrors.NewValidationFailedError("year must be an integer"))
		return
	}

	buckets, err := h.scans.MonthlyStats(r.Context(), year)
	if err != nil {
		writeError(w, h.logger, stderrors.NewTransactionFailedError(err))
		return
	}
	if buckets == nil {
		buckets = []scan.MonthBucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
