package consumer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoggingToCapturesLibraryMessages(t *testing.T) {
	var outer, captured bytes.Buffer
	ctx := logutil.WithLogger(context.Background(), zerolog.New(&outer))

	err := LoggingTo(ctx, zerolog.New(&captured), func(ctx context.Context) error {
		libraryLog(ctx, "100% of %s failed", 3)
		return nil
	})
	require.NoError(t, err)
	require.Contains(t, captured.String(), `"level":"warn"`)
	require.Contains(t, captured.String(), `"message":"100% of %s failed"`)
	require.Empty(t, outer.String())

	libraryLog(ctx, "after")
	require.Contains(t, outer.String(), `"message":"after"`)
	require.Equal(t, 1, strings.Count(captured.String(), "\n"), "the override should end with LoggingTo")
}

func TestLoggingToRestoresOnError(t *testing.T) {
	var outer, captured bytes.Buffer
	ctx := logutil.WithLogger(context.Background(), zerolog.New(&outer))
	boom := errors.New("boom")
	err := LoggingTo(ctx, zerolog.New(&captured), func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	libraryLog(ctx, "after error")
	require.Contains(t, outer.String(), "after error")
	require.Empty(t, captured.String())
}

func TestLoggingToRestoresOnPanic(t *testing.T) {
	var outer, captured bytes.Buffer
	ctx := logutil.WithLogger(context.Background(), zerolog.New(&outer))
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic should propagate")
			}
		}()
		LoggingTo(ctx, zerolog.New(&captured), func(ctx context.Context) error {
			panic("boom")
		})
	}()
	libraryLog(ctx, "after panic")
	require.Contains(t, outer.String(), "after panic")
	require.Empty(t, captured.String())
}
