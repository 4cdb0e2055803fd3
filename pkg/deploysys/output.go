package deploysys

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxLogger struct{}

// WithLogger returns a context carrying the given logger. The runner and the
// plan parser report through it; without one they stay silent.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogger{}, logger)
}

func log(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(ctxLogger{}).(*zerolog.Logger); ok {
		return logger
	}

	nop := zerolog.Nop()
	return &nop
}
