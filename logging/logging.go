package logging

import (
	"strings"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
)

// Setup applies a log level name (info, debug or trace). An empty name means info.
func Setup(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		sigolo.SetDefaultLogLevel(sigolo.LOG_INFO)
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
	case "debug":
		sigolo.SetDefaultLogLevel(sigolo.LOG_DEBUG)
	case "trace":
		sigolo.SetDefaultLogLevel(sigolo.LOG_TRACE)
	default:
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
		return errors.Errorf("unknown logging level '%s'", level)
	}
	return nil
}
