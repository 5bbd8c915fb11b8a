package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/abuseguard/pkg/logger"
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name string
	// Critical checks fail readiness. The counter store is not critical: the
	// guard fails open without it.
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthHandler provides liveness and readiness endpoints.
type HealthHandler struct {
	checks []HealthCheck
	log    logger.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(log logger.Logger, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, log: log}
}

// LivenessCheck reports that the process is serving.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck runs every check concurrently. Non-critical failures mark the
// service degraded but still ready.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	results := h.performChecks(ctx)

	status, httpStatus := "ready", http.StatusOK
	for _, check := range h.checks {
		if results[check.Name] == "ok" {
			continue
		}
		if check.Critical {
			status, httpStatus = "unready", http.StatusServiceUnavailable
			break
		}
		status = "degraded"
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    results,
	})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]string, len(h.checks))
	)
	wg.Add(len(h.checks))
	for _, check := range h.checks {
		go func(check HealthCheck) {
			defer wg.Done()
			status := "ok"
			if err := check.Check(ctx); err != nil {
				status = "error: " + err.Error()
				h.log.Warn(ctx, "health check failed", logger.String("check", check.Name), logger.Err(err))
			}
			mu.Lock()
			results[check.Name] = status
			mu.Unlock()
		}(check)
	}
	wg.Wait()
	return results
}
