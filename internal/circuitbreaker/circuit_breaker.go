package circuitbreaker

import (
	"errors"
	"time"

	"github.com/jogardn/roast-orders/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	ErrCircuitBreakerOpen = gobreaker.ErrOpenState
)

type Config struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration
	MaxRequests uint32
}

// CircuitBreaker wraps gobreaker with logging and Prometheus state.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	config Config
	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "unnamed"
		logger.Warn("Circuit breaker created without name, using 'unnamed'")
	}

	if config.MaxFailures == 0 {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": config.Name,
			"default_value":   5,
		}).Warn("Invalid MaxFailures value, using default")
		config.MaxFailures = 5
	}

	if config.Timeout <= 0 {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": config.Name,
			"invalid_value":   config.Timeout,
			"default_value":   "30s",
		}).Warn("Invalid Timeout value, using default")
		config.Timeout = 30 * time.Second
	}

	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}

	wrapper := &CircuitBreaker{config: config, logger: logger}
	wrapper.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Info("Circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(config.Name).Set(0)

	return wrapper
}

func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(c.config.Name).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.WithField("circuit_breaker", c.config.Name).Debug("Circuit breaker rejected request")
		}
	}
	return err
}

func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}

func (c *CircuitBreaker) Metrics() map[string]interface{} {
	counts := c.cb.Counts()
	return map[string]interface{}{
		"name":                 c.config.Name,
		"state":                c.cb.State().String(),
		"requests":             counts.Requests,
		"total_successes":      counts.TotalSuccesses,
		"total_failures":       counts.TotalFailures,
		"consecutive_failures": counts.ConsecutiveFailures,
		"max_failures":         c.config.MaxFailures,
		"timeout_seconds":      c.config.Timeout.Seconds(),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
