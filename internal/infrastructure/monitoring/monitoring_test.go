package monitoring_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/abuseguard/internal/config"
	"github.com/turtacn/abuseguard/internal/infrastructure/monitoring"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/logger"
)

func TestMetrics_RecordAndServe(t *testing.T) {
	m := monitoring.NewMetrics()

	m.RecordDecision("vote", "deny", "hard_limit_exceeded", "shadow")
	m.RecordDecision("vote", "deny", "hard_limit_exceeded", "shadow")
	m.RecordStoreUnavailable("incr")
	m.RecordDispatch("dropped")
	m.ObserveEvaluation("vote", 2*time.Millisecond)
	m.ObserveHTTP("/v1/guard/:action", "POST", 429, time.Millisecond)
	m.RecordPruned(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("vote", "deny", "hard_limit_exceeded", "shadow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreUnavailable.WithLabelValues("incr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/guard/:action", "POST", "429")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsPruned))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "abuseguard_decisions_total")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		monitoring.NewMetrics()
		monitoring.NewMetrics()
	})
}

func TestZapLogger_FieldsAndMasking(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := monitoring.NewZapLoggerFrom(zap.New(core)).WithComponent("guard")

	ctx := context.WithValue(context.Background(), constants.ContextKeyRequestID, "req-1")
	log.Warn(ctx, "Abuse decision",
		logger.String("action", "vote"),
		logger.String("admin_token", "abcdefghijkl"),
	)
	log.Error(ctx, "Write failed", errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "guard", fields["component"])
	assert.Equal(t, "vote", fields["action"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "abcd***ijkl", fields["admin_token"])

	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestNewZapLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.log")
	log, closer, err := monitoring.NewZapLogger(&config.LogConfig{Level: "debug", Format: "json", OutputPath: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info(context.Background(), "hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"hello"`))
}

func TestNewTracingManager_Disabled(t *testing.T) {
	tm, err := monitoring.NewTracingManager(context.Background(), &config.TracingConfig{Enabled: false}, logger.NewNoopLogger())
	require.NoError(t, err)
	require.NotNil(t, tm.Tracer())

	_, span := tm.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tm.Shutdown(context.Background()))
}
