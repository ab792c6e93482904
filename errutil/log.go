// Package errutil logs errors produced by the identityflow stores.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. For oops errors the code and context
// are logged as separate attributes.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.LogAttrs(ctx, slog.LevelError, msg, Attrs(err)...)
}

// Attrs returns the structured attributes describing err.
func Attrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{slog.String("error", oopsErr.Error())}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, slog.Any("code", code))
	}
	if c := oopsErr.Context(); len(c) > 0 {
		attrs = append(attrs, slog.Any("context", c))
	}
	return attrs
}
