package orchestrator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// ScanHandler runs manual scans inside the process that owns the cycles, so
// they share its single-flight guard. The repository identifier is read from
// the "id" path value. A scan requested while a cycle runs is answered with
// 409 Conflict.
func (o *Orchestrator) ScanHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := shared.ParseRepositoryID(id); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
			return
		}

		// a disconnecting client must not abort a scan that already holds the guard
		result, err := o.ScanRepository(context.WithoutCancel(r.Context()), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, result)
		case stderrors.Is(err, errors.ErrCycleInProgress):
			writeJSON(w, http.StatusConflict, errorBody{err.Error()})
		case errors.IsNotFound(err):
			writeJSON(w, http.StatusNotFound, errorBody{err.Error()})
		default:
			o.logger.Error("manual scan failed", "repository", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{err.Error()})
		}
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
