package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
)

const deliveryTimeout = 5 * time.Second

// DispatcherConfig tunes the delivery queue
type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	SuppressionTTL time.Duration
}

// Dispatcher queues notifications and delivers them from a small worker pool. A full queue
// drops the notification with a warning rather than blocking the workflow.
type Dispatcher struct {
	notifier   domain.Notifier
	queue      chan domain.Notification
	suppressed *cache.Cache
	log        *logrus.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers. Call Close to drain the queue and stop them.
func NewDispatcher(notifier domain.Notifier, cfg DispatcherConfig, logger *logrus.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SuppressionTTL <= 0 {
		cfg.SuppressionTTL = 24 * time.Hour
	}

	d := &Dispatcher{
		notifier:   notifier,
		queue:      make(chan domain.Notification, cfg.QueueSize),
		suppressed: cache.New(cfg.SuppressionTTL, cfg.SuppressionTTL/2),
		log:        logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues n. It never blocks and never fails.
func (d *Dispatcher) Dispatch(_ context.Context, n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	fields := logrus.Fields{
		"notification_id":     n.ID,
		"recipient_id":        n.RecipientID,
		"type":                n.Type,
		"secondary_review_id": n.SecondaryReviewID,
	}

	if d.isSuppressed(n) {
		d.log.WithFields(fields).Debug("Notification suppressed")
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.WithFields(fields).Warn("Notification dropped: dispatcher closed")
		return
	}

	select {
	case d.queue <- n:
	default:
		d.log.WithFields(fields).Warn("Notification dropped: queue full")
	}
}

// Suppress drops queued and future notifications of a secondary review
func (d *Dispatcher) Suppress(secondaryReviewID string) {
	if secondaryReviewID == "" {
		return
	}
	d.suppressed.SetDefault(secondaryReviewID, struct{}{})
	d.log.WithField("secondary_review_id", secondaryReviewID).Info("Notifications suppressed")
}

func (d *Dispatcher) isSuppressed(n domain.Notification) bool {
	if n.SecondaryReviewID == "" {
		return false
	}
	_, found := d.suppressed.Get(n.SecondaryReviewID)
	return found
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n domain.Notification) {
	if d.isSuppressed(n) {
		d.log.WithFields(logrus.Fields{
			"notification_id":     n.ID,
			"secondary_review_id": n.SecondaryReviewID,
		}).Debug("Queued notification suppressed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, n); err != nil {
		d.log.WithFields(logrus.Fields{
			"notification_id": n.ID,
			"recipient_id":    n.RecipientID,
			"type":            n.Type,
			"error":           err,
		}).Warn("Notification delivery failed")
	}
}

// Close stops accepting notifications and waits for the queue to drain
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

var _ domain.NotificationDispatcher = (*Dispatcher)(nil)
