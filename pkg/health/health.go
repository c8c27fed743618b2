package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"
	"github.com/KeshavSoni17/halo-backend/pkg/resilience"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Critical    bool           `json:"critical"`
	Description string         `json:"description,omitempty"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
	details  func() map[string]any
}

// Checker manages health checks for the system
type Checker struct {
	checks      map[string]registration
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	checker := &Checker{
		checks:      make(map[string]registration),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     5 * time.Second,
		log:         log.WithComponent("health"),
	}

	checker.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a new health check. A critical component that is
// down makes the whole system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "not checked yet",
	}
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg
	}
	c.mutex.RUnlock()

	for name, reg := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		status, description, err := reg.check(checkCtx)
		cancel()

		var details map[string]any
		if reg.details != nil {
			details = reg.details()
		}

		c.mutex.Lock()
		component := c.components[name]
		component.Status = status
		component.Description = description
		component.Details = details
		component.LastChecked = time.Now()
		if err != nil {
			component.Error = err.Error()
		} else {
			component.Error = ""
		}
		c.mutex.Unlock()

		if err != nil {
			c.log.Error("health check failed",
				"check", name,
				"status", string(status),
				"error", err.Error(),
			)
		}
	}
}

// Start runs the checks once, then keeps running them every period until
// ctx is done
func (c *Checker) Start(ctx context.Context) {
	c.RunChecks(ctx)

	go func() {
		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// GetStatus returns a snapshot of the current health status
func (c *Checker) GetStatus() map[string]Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]Component, len(c.components))
	for k, v := range c.components {
		result[k] = *v
	}

	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}

	return true
}

// Handler serves the aggregated health report
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		code := http.StatusOK
		status := "ok"
		if !c.IsSystemHealthy() {
			code = http.StatusServiceUnavailable
			status = "unavailable"
		}

		ctx.JSON(code, gin.H{
			"status":     status,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"components": c.GetStatus(),
		})
	}
}

// RegisterDatabaseCheck registers a database health check
func (c *Checker) RegisterDatabaseCheck(ping func(ctx context.Context) error) {
	c.RegisterCheck("database", true, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, "database connection failed", err
		}
		return StatusUp, "database connection is established", nil
	})
}

// Breaker is the view of a circuit breaker the upstream checks need
type Breaker interface {
	GetState() resilience.CircuitBreakerState
	GetMetrics() map[string]any
}

// RegisterUpstreamCheck reports an upstream as degraded while its circuit is
// open. The breaker counters are published as the component's details.
func (c *Checker) RegisterUpstreamCheck(service string, breaker Breaker) {
	name := "upstream-" + service
	c.RegisterCheck(name, false, func(context.Context) (Status, string, error) {
		state := breaker.GetState()
		if state == resilience.StateOpen {
			return StatusDegraded, service + " circuit is open", nil
		}
		return StatusUp, service + " circuit is " + string(state), nil
	})

	c.mutex.Lock()
	reg := c.checks[name]
	reg.details = breaker.GetMetrics
	c.checks[name] = reg
	c.mutex.Unlock()
}
