package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/hauke96/sigolo/v2"
	pkgerrors "github.com/pkg/errors"

	"poi-server/geo"
	"poi-server/middleware"
	"poi-server/store"
	"poi-server/utils/errors"
)

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		sigolo.Errorf("Writing response failed: %v", err)
	}
}

// writeServiceError maps service errors onto API errors. Drivers may report a cancelled statement
// with their own error, so the request context decides before the catch-all.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if ctxErr := r.Context().Err(); ctxErr != nil && !pkgerrors.Is(err, ctxErr) {
		err = pkgerrors.Wrapf(ctxErr, "%v", err)
	}
	switch {
	case pkgerrors.Is(err, geo.ErrInvalidRegion):
		middleware.WriteError(w, errors.ErrInvalidRegion.WithDetails(err.Error()))
	case pkgerrors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, errors.ErrNotFound)
	case pkgerrors.Is(err, context.Canceled):
		sigolo.Debugf("Request %s %s%s cancelled: %v", r.Method, r.URL.Path, requester(r), err)
		middleware.WriteError(w, errors.ErrRequestTimeout)
	case pkgerrors.Is(err, context.DeadlineExceeded):
		sigolo.Warnf("Request %s %s%s timed out: %v", r.Method, r.URL.Path, requester(r), err)
		middleware.WriteError(w, errors.ErrRequestTimeout)
	default:
		sigolo.Errorf("Request %s %s%s failed: %+v", r.Method, r.URL.Path, requester(r), err)
		middleware.WriteError(w, errors.ErrInternal)
	}
}

// requester names the token subject for log lines when the API is gated.
func requester(r *http.Request) string {
	if subject, ok := middleware.SubjectFromContext(r.Context()); ok && subject != "" {
		return " by " + subject
	}
	return ""
}

// parseLimit returns nil for an absent limit.
func parseLimit(r *http.Request) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return nil, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.ErrInvalidInput.WithDetails("limit must be an integer")
	}
	return &limit, nil
}
