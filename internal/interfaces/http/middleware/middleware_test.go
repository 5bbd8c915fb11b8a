package middleware_test

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/internal/interfaces/http/middleware"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/logger"
)

type stubChecker struct {
	decision models.Decision
	err      error
	seen     []models.Identity
}

func (s *stubChecker) Check(_ context.Context, _ models.Action, id models.Identity, _ *engine.EnforceOptions) (models.Decision, error) {
	s.seen = append(s.seen, id)
	return s.decision, s.err
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGuard(t *testing.T) {
	resolver := identity.NewResolver("s")
	log := logger.NewNoopLogger()

	t.Run("allows", func(t *testing.T) {
		checker := &stubChecker{decision: models.Allow(models.ReasonUnderLimit)}
		r := gin.New()
		r.POST("/vote", middleware.Guard(checker, models.ActionVote, resolver, log), func(c *gin.Context) { c.Status(http.StatusNoContent) })

		req := httptest.NewRequest(http.MethodPost, "/vote", nil)
		req.Header.Set(constants.HeaderUserID, "7")
		assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
		require.Len(t, checker.seen, 1)
		assert.Equal(t, resolver.HashUserID("7"), checker.seen[0].UserID)
	})

	t.Run("blocks with uniform body", func(t *testing.T) {
		checker := &stubChecker{decision: models.Decision{Outcome: models.OutcomeThrottle, Reason: models.ReasonSoftLimit, CurrentCount: 9, Limit: 5}}
		r := gin.New()
		r.POST("/vote", middleware.Guard(checker, models.ActionVote, resolver, log), func(c *gin.Context) { c.Status(http.StatusNoContent) })

		w := serve(r, httptest.NewRequest(http.MethodPost, "/vote", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotContains(t, w.Body.String(), "9")
		assert.Contains(t, w.Body.String(), constants.RateLimitedMessage)
	})

	t.Run("fails open on error", func(t *testing.T) {
		checker := &stubChecker{err: stderrors.New("bad policy")}
		r := gin.New()
		r.POST("/vote", middleware.Guard(checker, models.ActionVote, resolver, log), func(c *gin.Context) { c.Status(http.StatusNoContent) })

		assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodPost, "/vote", nil)).Code)
	})

	t.Run("reuses resolved identity", func(t *testing.T) {
		checker := &stubChecker{decision: models.Allow(models.ReasonUnderLimit)}
		r := gin.New()
		r.Use(middleware.Identity(resolver))
		r.POST("/vote", middleware.Guard(checker, models.ActionVote, resolver, log), func(c *gin.Context) {
			id, ok := middleware.IdentityFrom(c)
			require.True(t, ok)
			assert.Equal(t, checker.seen[0], id)
			c.Status(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodPost, "/vote", nil)
		req.Header.Set(constants.HeaderForwardedFor, "198.51.100.1, 10.0.0.1")
		req.AddCookie(&http.Cookie{Name: constants.DeviceCookieName, Value: "dev-1"})
		assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
		assert.Equal(t, resolver.Hash("198.51.100.1"), checker.seen[0].IPHash)
		assert.Equal(t, resolver.Hash("dev-1"), checker.seen[0].DeviceHash)
		assert.Empty(t, checker.seen[0].UserID)
	})
}

func TestAdminAuth(t *testing.T) {
	r := gin.New()
	r.GET("/a", middleware.AdminAuth("tok"), func(c *gin.Context) { c.Status(http.StatusOK) })
	disabled := gin.New()
	disabled.GET("/a", middleware.AdminAuth(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set(constants.HeaderAdminToken, "tok")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(disabled, req).Code)
}

func TestRequestIDAndRecovery(t *testing.T) {
	r := gin.New()
	r.Use(middleware.Recovery(logger.NewNoopLogger()), middleware.RequestID())
	r.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, "%v", c.Request.Context().Value(constants.ContextKeyRequestID))
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := serve(r, req)
	assert.Equal(t, "abc", w.Body.String())
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/id", nil))
	assert.Len(t, w.Body.String(), 36)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

type observed struct {
	route  string
	status int
}

type recordingObserver struct{ calls []observed }

func (o *recordingObserver) ObserveHTTP(route, _ string, status int, _ time.Duration) {
	o.calls = append(o.calls, observed{route: route, status: status})
}

func TestObservability(t *testing.T) {
	obs := &recordingObserver{}
	r := gin.New()
	r.Use(middleware.Observability(otel.Tracer("test"), obs))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/items/1", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, []observed{{"/items/:id", http.StatusOK}, {"not_found", http.StatusNotFound}}, obs.calls)
}
