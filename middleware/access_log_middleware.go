package middleware

import (
	"net/http"
	"time"

	"github.com/hauke96/sigolo/v2"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// AccessLogMiddleware logs one debug line per request. Bodies are never read.
func AccessLogMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			sigolo.Debugf("%s %s -> %d (%d bytes, %d ms) from %s",
				r.Method, r.URL.Path, sw.status, sw.bytes, time.Since(start).Milliseconds(), r.RemoteAddr)
		})
	}
}
