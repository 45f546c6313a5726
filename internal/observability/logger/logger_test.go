package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	require.Equal(t, zapcore.WarnLevel, parseLevel(" warning "))
	require.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestFrom_FallsBackToSingleton(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	From(context.Background()).Info("root loaded", Kind("root"))
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "root", logs.All()[0].ContextMap()["cert_kind"])
}

func TestToContext_ScopedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	scoped := zap.New(core).With(RequestID("abc"))

	ctx := ToContext(context.Background(), scoped)
	From(ctx).Info("exchange", Protocol("enrollment"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "abc", fields["request_id"])
	require.Equal(t, "enrollment", fields["protocol"])
}

func TestWithExchange(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).With(Op("Enroll")))

	actx, l := WithExchange(ctx, "enrollment", "req-1", 2)
	l.Debug("sent")
	From(actx).Info("via ctx")

	require.Equal(t, 2, logs.Len())
	for _, e := range logs.All() {
		f := e.ContextMap()
		require.Equal(t, "Enroll", f["op"])
		require.Equal(t, "enrollment", f["protocol"])
		require.Equal(t, "req-1", f["request_id"])
		require.EqualValues(t, 2, f["attempt"])
	}
}

func TestBuild_TestEnvIsNop(t *testing.T) {
	l := build(Config{Env: "TEST"})
	require.False(t, l.Core().Enabled(zapcore.ErrorLevel))
	require.True(t, build(Config{Env: "prod", Level: "warn"}).Core().Enabled(zapcore.WarnLevel))
	require.False(t, build(Config{Env: "prod", Level: "warn"}).Core().Enabled(zapcore.InfoLevel))
}
