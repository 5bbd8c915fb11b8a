package http_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/turtacn/abuseguard/internal/config"
	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/internal/guard"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/internal/infrastructure/audit"
	"github.com/turtacn/abuseguard/internal/infrastructure/counterstore"
	"github.com/turtacn/abuseguard/internal/infrastructure/monitoring"
	"github.com/turtacn/abuseguard/internal/infrastructure/persistence/database"
	apihttp "github.com/turtacn/abuseguard/internal/interfaces/http"
	"github.com/turtacn/abuseguard/internal/interfaces/http/handlers"
	"github.com/turtacn/abuseguard/internal/policy"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/logger"
)

const adminToken = "admin-token"

type testServer struct {
	handler    http.Handler
	dispatcher *guard.Dispatcher
	resolver   *identity.Resolver
}

func newTestServer(t *testing.T, mode string) *testServer {
	t.Helper()
	log := logger.NewNoopLogger()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "events.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	repo := audit.NewGormEventRepository(db)

	store := counterstore.NewMemoryCounterStore(counterstore.EventLogConfig{MaxLen: 100}, time.Minute)
	resolver := identity.NewResolver("test-secret")
	table := policy.DefaultTable()
	metrics := monitoring.NewMetrics()

	sink := audit.NewMultiSink().Add("event_log", audit.NewEventLogSink(store)).Add("database", repo)
	dispatcher := guard.NewDispatcher(sink, 8, time.Second, metrics, log)
	g := guard.New(engine.New(table, store, metrics, log), config.StaticFlags{On: true, Current: mode}, dispatcher, store, metrics, nil, log)

	cfg := &config.Config{Admin: config.AdminConfig{Token: adminToken}}
	health := handlers.NewHealthHandler(log,
		handlers.HealthCheck{Name: "store", Check: func(context.Context) error { return stderrors.New("down") }},
	)
	router := apihttp.NewRouter(cfg, log, resolver,
		handlers.NewGuardHandler(g, resolver, log),
		handlers.NewAdminHandler(table, store, repo, g, log),
		health, metrics, otel.Tracer("test"),
	)
	return &testServer{handler: router.Engine(), dispatcher: dispatcher, resolver: resolver}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) guard(action, body, user string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/v1/guard/"+action, body, map[string]string{
		constants.HeaderUserID:      user,
		constants.HeaderForwardedFor: "203.0.113.7",
	})
}

func TestGuardEndpoint_Enforce(t *testing.T) {
	s := newTestServer(t, models.ModeEnforce)

	assert.Equal(t, http.StatusOK, s.guard("community_create", "", "42").Code)
	assert.Equal(t, http.StatusOK, s.guard("community_create", "", "42").Code)

	w := s.guard("community_create", "", "42")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate_limited","error_description":"too many requests, try again later"}`, w.Body.String())

	// another user is unaffected
	assert.Equal(t, http.StatusOK, s.guard("community_create", "", "43").Code)
}

func TestGuardEndpoint_ShadowNeverBlocks(t *testing.T) {
	s := newTestServer(t, models.ModeShadow)
	for i := 0; i < 6; i++ {
		w := s.guard("community_create", "", "42")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"allowed":true}`, w.Body.String())
	}
}

func TestGuardEndpoint_DuplicateContent(t *testing.T) {
	s := newTestServer(t, models.ModeEnforce)

	assert.Equal(t, http.StatusOK, s.guard("post_create", `{"contentBody":"Hello, World!"}`, "42").Code)
	assert.Equal(t, http.StatusTooManyRequests, s.guard("post_create", `{"contentBody":"hello world"}`, "42").Code)
	assert.Equal(t, http.StatusOK, s.guard("post_create", `{"contentBody":"something else"}`, "42").Code)
}

func TestGuardEndpoint_PendingItems(t *testing.T) {
	s := newTestServer(t, models.ModeEnforce)

	assert.Equal(t, http.StatusOK, s.guard("post_create", `{"pendingCount":2,"pendingMax":3}`, "42").Code)
	assert.Equal(t, http.StatusTooManyRequests, s.guard("post_create", `{"pendingCount":3,"pendingMax":3}`, "42").Code)
}

func TestGuardEndpoint_ChunkedBody(t *testing.T) {
	s := newTestServer(t, models.ModeEnforce)

	post := func(body string) *httptest.ResponseRecorder {
		// hiding the reader's type leaves ContentLength unknown, as with chunked encoding
		req := httptest.NewRequest(http.MethodPost, "/v1/guard/post_create", struct{ io.Reader }{strings.NewReader(body)})
		require.Equal(t, int64(-1), req.ContentLength)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(constants.HeaderUserID, "42")
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, post("").Code)
	assert.Equal(t, http.StatusOK, post(`{"contentBody":"first post"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(`{"contentBody":"First post!"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{not json`).Code)
}

func TestGuardEndpoint_BadRequests(t *testing.T) {
	s := newTestServer(t, models.ModeEnforce)

	assert.Equal(t, http.StatusBadRequest, s.guard("launch_missiles", "", "42").Code)
	assert.Equal(t, http.StatusBadRequest, s.guard("vote", `{not json`, "42").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/nope", "", nil).Code)
}

func TestAdmin_RequiresToken(t *testing.T) {
	s := newTestServer(t, models.ModeEnforce)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/admin/policies", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/admin/policies", "", map[string]string{constants.HeaderAdminToken: "wrong"}).Code)

	w := s.do(http.MethodGet, "/admin/policies", "", map[string]string{constants.HeaderAdminToken: adminToken})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Policies []handlers.PolicyView `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Policies, len(models.AllActions()))
}

func TestAdmin_EventsAndCooldowns(t *testing.T) {
	s := newTestServer(t, models.ModeEnforce)
	admin := map[string]string{constants.HeaderAdminToken: adminToken}

	for i := 0; i < 4; i++ {
		s.guard("community_create", "", "42")
	}
	require.NoError(t, s.dispatcher.Close(context.Background()))

	w := s.do(http.MethodGet, "/admin/events?limit=10", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"hard_limit_exceeded"`)
	assert.NotContains(t, w.Body.String(), `"42"`)

	w = s.do(http.MethodGet, "/admin/events/persisted?action=community_create", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	var persisted struct {
		Events []models.AbuseEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &persisted))
	assert.Len(t, persisted.Events, 2)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/admin/events?limit=-1", "", admin).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/admin/events/persisted?action=bogus", "", admin).Code)

	w = s.do(http.MethodDelete, "/admin/cooldowns/"+s.resolver.HashUserID("42"), "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, models.ModeShadow)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", nil).Code)

	w := s.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	s.guard("vote", "", "42")
	w = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "abuseguard_decisions_total")
	assert.Contains(t, w.Body.String(), "abuseguard_http_requests_total")
}
