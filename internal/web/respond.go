package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/dkrish7/osprey/internal/job"
	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/internal/ratelimit"
	"github.com/dkrish7/osprey/internal/tool"
	"github.com/dkrish7/osprey/internal/webhook"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Log.Error().Err(err).Msg("response encode failed")
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *tool.ValidationError
		terr *job.TransitionError
		rerr *ratelimit.RateLimitError
	)
	switch {
	case errors.Is(err, tool.ErrUnknownTool):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error()})
	case errors.As(err, &terr):
		writeJSON(w, http.StatusConflict, errorBody{Error: terr.Error()})
	case errors.As(err, &rerr):
		writeRateLimited(w, rerr)
	// Ownership failures read as absence so ids cannot be probed.
	case errors.Is(err, job.ErrForbidden), errors.Is(err, webhook.ErrForbidden), errors.Is(err, pgx.ErrNoRows):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, job.ErrNoOutput):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		logger.FromContext(r.Context()).Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
