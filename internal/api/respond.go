// internal/api/respond.go
package api

import (
	"encoding/json"
	"net/http"

	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps standard errors onto their HTTP status. Anything outside
// the taxonomy is surfaced as an opaque 500; internals never leak.
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	if se, ok := err.(*stderrors.StandardError); ok {
		writeJSON(w, stderrors.HTTPStatus(se.Code), se)
		return
	}

	log.Error("unclassified handler error", map[string]interface{}{
		"error": err,
	})
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"code":    string(stderrors.ErrCodeTransactionFailed),
		"message": "internal error",
	})
}
