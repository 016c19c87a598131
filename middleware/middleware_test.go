package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poi-server/services"
	apierrors "poi-server/utils/errors"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type staticVersion struct {
	version string
	err     error
}

func (s staticVersion) GetActiveVersion(context.Context) (string, error) {
	return s.version, s.err
}

func TestDataVersionMiddleware(t *testing.T) {
	var pinned string
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pinned, ok = services.ActiveVersionFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	DataVersionMiddleware(staticVersion{version: "2025-01"})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/features", nil))
	assert.Equal(t, "2025-01", rec.Header().Get(DataVersionHeader))
	assert.True(t, ok)
	assert.Equal(t, "2025-01", pinned)

	rec = httptest.NewRecorder()
	DataVersionMiddleware(staticVersion{})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/features", nil))
	_, present := rec.Header()[DataVersionHeader]
	assert.False(t, present, "no header without an active version")
	assert.True(t, ok)
	assert.Empty(t, pinned)

	rec = httptest.NewRecorder()
	DataVersionMiddleware(staticVersion{err: errors.New("db down")})(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/features", nil))
	assert.False(t, ok, "failed reads leave the request unpinned")
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"http://app.test"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/features", nil)
	req.Header.Set("Origin", "http://app.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, DataVersionHeader, rec.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/api/features", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestJWTMiddleware(t *testing.T) {
	var subject string
	h := JWTMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = SubjectFromContext(r.Context())
	}))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "importer"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "importer"}).SignedString([]byte("other"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/features", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "importer", subject)

	for _, header := range []string{"", "Basic abc", "Bearer " + forged, "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/api/features", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestErrorMiddleware_recoversPanics(t *testing.T) {
	h := ErrorMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apierrors.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Code)
}

func TestWriteError_plainErrorIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("unexpected"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apierrors.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNKNOWN_ERROR", body.Code)
	assert.Equal(t, "unexpected", body.Details)
}

func TestAccessLogMiddleware_passesThrough(t *testing.T) {
	h := AccessLogMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
}
