package consumer

import (
	"context"

	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/rs/zerolog"
)

type libraryLogKey struct{}

// LoggingTo runs fn with a context where every message logged by the
// OpenID library adapter is sent to log as a warning. The override only
// lives in the context given to fn, so it ends when fn returns or panics.
func LoggingTo(ctx context.Context, log zerolog.Logger, fn func(context.Context) error) error {
	return fn(context.WithValue(ctx, libraryLogKey{}, log))
}

// libraryLog is the single log function used by the library adapter.
// message is never used as a format string, level is accepted for
// parity with library calls but ignored.
func libraryLog(ctx context.Context, message string, level ...int) {
	if log, ok := ctx.Value(libraryLogKey{}).(zerolog.Logger); ok {
		log.Warn().Msg(message)
		return
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("source", "openid").Msg(message)
}
