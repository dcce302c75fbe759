// Package log builds the zap loggers used throughout the server.
package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// NewLogger returns a production zap logger. Setting DYNDNS_LOG_DEVEL to a
// non-empty value switches to the human-readable development config.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("DYNDNS_LOG_DEVEL") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction(
		zap.AddCaller(),
		zap.AddStacktrace(zap.DPanicLevel),
	)
}

func MustNewLogger() *zap.Logger {
	l, err := NewLogger()
	if err != nil {
		panic(fmt.Errorf("could not create new logger: %w", err))
	}
	return l
}
