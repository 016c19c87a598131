package services

import "context"

type contextKey string

const activeVersionKey contextKey = "activeVersion"

// WithActiveVersion pins the active version read once at the start of a request.
func WithActiveVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, activeVersionKey, version)
}

func ActiveVersionFromContext(ctx context.Context) (string, bool) {
	version, ok := ctx.Value(activeVersionKey).(string)
	return version, ok
}
