package notify

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/spine-review-engine/internal/domain"
)

// BreakerNotifier stops calling a failing sink until it has had time to recover
type BreakerNotifier struct {
	next    domain.Notifier
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerNotifier wraps next with a circuit breaker configured from cfg
func NewBreakerNotifier(next domain.Notifier, cfg domain.BreakerConfig, logger *logrus.Logger) *BreakerNotifier {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-sink",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &BreakerNotifier{next: next, breaker: breaker}
}

// Notify forwards to the wrapped sink unless the breaker is open
func (n *BreakerNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.next.Notify(ctx, msg)
	})
	return err
}

// State reports the breaker state for health output
func (n *BreakerNotifier) State() gobreaker.State {
	return n.breaker.State()
}
