package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker short-circuits calls
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means the circuit is closed and requests are allowed to pass through
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means the circuit is open and requests are being short-circuited
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means the circuit is allowing a limited number of test requests
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreaker guards calls to an upstream service
type CircuitBreaker struct {
	name             string
	state            CircuitBreakerState
	failureThreshold uint
	successThreshold uint
	retryTimeout     time.Duration
	mutex            sync.Mutex
	failureCount     uint
	successCount     uint
	inFlight         uint
	lastFailureTime  time.Time
	nextAttemptTime  time.Time
	log              *logger.Logger
	now              func() time.Time

	totalFailures    uint64
	totalSuccesses   uint64
	totalRequests    uint64
	totalRejected    uint64
	openCircuitCount uint64
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		RetryTimeout:     30 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:             config.Name,
		state:            StateClosed,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		retryTimeout:     config.RetryTimeout,
		log:              log.WithComponent("circuit_breaker"),
		now:              time.Now,
	}
}

// Execute runs fn through the circuit breaker. A canceled caller context is
// not held against the upstream.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		cb.log.Warn("circuit breaker rejected request", "name", cb.name)
		return ErrCircuitOpen
	}

	start := cb.now()
	err := fn(ctx)

	switch {
	case err == nil:
		cb.recordSuccess()
	case ctx.Err() != nil:
		cb.release()
	default:
		cb.recordFailure()
		cb.log.Warn("circuit breaker recorded failure",
			"name", cb.name,
			"error", err.Error(),
			"duration", cb.now().Sub(start).String(),
		)
	}

	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			cb.totalRejected++
			return false
		}
		cb.toHalfOpen()
		fallthrough

	case StateHalfOpen:
		// half-open admits one trial call at a time
		if cb.inFlight > 0 {
			cb.totalRejected++
			return false
		}
	}

	cb.inFlight++
	cb.totalRequests++
	return true
}

func (cb *CircuitBreaker) release() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.inFlight--
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.inFlight--
	cb.totalSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.toClosed()
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.inFlight--
	cb.totalFailures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.toOpen()
		}

	case StateHalfOpen:
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.openCircuitCount++
	cb.nextAttemptTime = cb.now().Add(cb.retryTimeout)

	cb.log.Info("circuit breaker opened",
		"name", cb.name,
		"failures", cb.failureCount,
		"next_attempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.successCount = 0

	cb.log.Info("circuit breaker half-open", "name", cb.name)
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0

	cb.log.Info("circuit breaker closed", "name", cb.name)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// GetMetrics returns the current metrics of the circuit breaker
func (cb *CircuitBreaker) GetMetrics() map[string]any {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return map[string]any{
		"name":               cb.name,
		"state":              string(cb.state),
		"total_requests":     cb.totalRequests,
		"total_failures":     cb.totalFailures,
		"total_successes":    cb.totalSuccesses,
		"total_rejected":     cb.totalRejected,
		"open_circuit_count": cb.openCircuitCount,
		"last_failure_time":  cb.lastFailureTime,
	}
}
