package middleware

import (
	"context"
	"net/http"

	"github.com/hauke96/sigolo/v2"

	"poi-server/services"
)

const DataVersionHeader = "X-Data-Version"

type activeVersionReader interface {
	GetActiveVersion(ctx context.Context) (string, error)
}

// DataVersionMiddleware reads the active version once per request, advertises it in the
// X-Data-Version header when set, and pins it on the context so queries use the same version.
// A failed read leaves the request unpinned; handlers then read the version themselves.
func DataVersionMiddleware(reader activeVersionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			version, err := reader.GetActiveVersion(r.Context())
			if err != nil {
				sigolo.Errorf("Reading active version for %s failed: %v", r.URL.Path, err)
				next.ServeHTTP(w, r)
				return
			}
			if version != "" {
				w.Header().Set(DataVersionHeader, version)
			}
			next.ServeHTTP(w, r.WithContext(services.WithActiveVersion(r.Context(), version)))
		})
	}
}
