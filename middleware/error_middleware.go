package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hauke96/sigolo/v2"

	"poi-server/utils/errors"
)

// ErrorMiddleware turns panics into a 500 JSON response.
func ErrorMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					sigolo.Errorf("Panic recovered on %s %s: %v", r.Method, r.URL.Path, rec)
					WriteError(w, errors.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes err as a JSON APIError. Errors of other types become 500s.
func WriteError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*errors.APIError)
	if !ok {
		apiErr = errors.Wrap(err, "UNKNOWN_ERROR", "Unexpected error", errors.ErrInternal.Status)
	}
	if apiErr.Status >= 500 {
		sigolo.Errorf("Server error %s (Details: %s)", apiErr.Error(), apiErr.Details)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	if err := json.NewEncoder(w).Encode(apiErr); err != nil {
		sigolo.Errorf("Writing error response failed: %v", err)
	}
}
