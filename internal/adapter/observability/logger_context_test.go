package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext_RoundTrip(t *testing.T) {
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := ContextWithLogger(context.Background(), lg)
	require.Same(t, lg, LoggerFromContext(ctx))
}

func TestLoggerFromContext_FallsBackToDefault(t *testing.T) {
	require.NotNil(t, LoggerFromContext(context.Background()))
	require.NotNil(t, LoggerFromContext(nil)) //nolint:staticcheck // nil ctx fallback is part of the contract
}

func TestContextWithLogger_NilLoggerIsNoop(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, ctx, ContextWithLogger(ctx, nil))
}
