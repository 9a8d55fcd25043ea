package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hylla/witcopier/internal/domain"
)

// Subscriber is the host contract for a notification handler.
type Subscriber interface {
	Name() string
	Priority() domain.SubscriberPriority
	SubscribedEventTypes() []domain.EventType
	ProcessEvent(context.Context, domain.RequestContext, domain.NotificationCategory, domain.Notification) (domain.EventResult, error)
}

// SubscriberOutcome records what one subscriber returned.
type SubscriberOutcome struct {
	Subscriber string             `json:"subscriber"`
	Result     domain.EventResult `json:"result"`
	Error      string             `json:"error,omitempty"`
	Panicked   bool               `json:"panicked,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

// DispatchReport summarizes one notification delivery.
type DispatchReport struct {
	NotificationID string                         `json:"notification_id"`
	Category       domain.NotificationCategory    `json:"category"`
	EventType      domain.EventType               `json:"event_type"`
	Status         domain.EventNotificationStatus `json:"status"`
	Outcomes       []SubscriberOutcome            `json:"outcomes"`
}

// Failed reports whether any subscriber returned an error or panicked.
func (r DispatchReport) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Error != "" || o.Panicked {
			return true
		}
	}
	return false
}

type registeredSubscriber struct {
	sub   Subscriber
	order int
}

// Dispatcher delivers notifications to registered subscribers in priority order.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    []registeredSubscriber
	metrics MetricsRecorder
	idGen   IDGenerator
	clock   Clock
}

// NewDispatcher constructs a new value for this package.
func NewDispatcher(metrics MetricsRecorder, idGen IDGenerator, clock Clock) *Dispatcher {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{metrics: metrics, idGen: idGen, clock: clock}
}

// Register adds one subscriber. Names must be unique.
func (d *Dispatcher) Register(sub Subscriber) error {
	if sub == nil {
		return ErrInvalidSubscriber
	}
	name := strings.TrimSpace(sub.Name())
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubscriber)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.subs {
		if strings.EqualFold(existing.sub.Name(), name) {
			return fmt.Errorf("%w: %q", ErrDuplicateSubscriber, name)
		}
	}
	d.subs = append(d.subs, registeredSubscriber{sub: sub, order: len(d.subs)})
	slices.SortStableFunc(d.subs, func(a, b registeredSubscriber) int {
		if a.sub.Priority() != b.sub.Priority() {
			return int(b.sub.Priority()) - int(a.sub.Priority())
		}
		return a.order - b.order
	})
	return nil
}

// Subscribers returns registered names in delivery order.
func (d *Dispatcher) Subscribers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.subs))
	for _, rs := range d.subs {
		out = append(out, rs.sub.Name())
	}
	return out
}

// Dispatch delivers one notification to every subscriber of its event type.
// Subscriber errors and panics are recorded in the report and never abort delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, rc domain.RequestContext, category domain.NotificationCategory, n domain.Notification) DispatchReport {
	if strings.TrimSpace(n.ID) == "" {
		n.ID = d.idGen()
	}
	if category == "" {
		category = n.Category
	}
	if category == "" {
		category = domain.CategoryNotification
	}
	n.Category = category

	report := DispatchReport{
		NotificationID: n.ID,
		Category:       category,
		EventType:      n.EventType(),
		Status:         domain.StatusActionPermitted,
		Outcomes:       make([]SubscriberOutcome, 0),
	}
	d.metrics.ObserveNotification(category, report.EventType)

	d.mu.RLock()
	subs := slices.Clone(d.subs)
	d.mu.RUnlock()

	for _, rs := range subs {
		if !subscribes(rs.sub, report.EventType) {
			continue
		}
		outcome := d.deliver(ctx, rs.sub, rc, category, n)
		if category == domain.CategoryDecision && outcome.Result.Status == domain.StatusActionDenied {
			report.Status = domain.StatusActionDenied
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report
}

// deliver invokes one subscriber and converts panics into outcomes.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscriber, rc domain.RequestContext, category domain.NotificationCategory, n domain.Notification) (outcome SubscriberOutcome) {
	name := sub.Name()
	started := d.clock()
	outcome = SubscriberOutcome{Subscriber: name, Result: domain.Permitted()}
	defer func() {
		elapsed := d.clock().Sub(started)
		outcome.DurationMS = elapsed.Milliseconds()
		if r := recover(); r != nil {
			outcome.Panicked = true
			outcome.Result = domain.Permitted()
			outcome.Error = fmt.Sprintf("panic: %v", r)
			log.Error("subscriber panicked", "subscriber", name, "notification_id", n.ID, "panic", r)
		}
		d.metrics.ObserveSubscriber(name, outcome.Error == "", elapsed)
	}()

	result, err := sub.ProcessEvent(ctx, rc, category, n)
	outcome.Result = result
	if result.Status == "" {
		outcome.Result.Status = domain.StatusActionPermitted
	}
	if err != nil {
		outcome.Error = err.Error()
		log.Error("subscriber failed", "subscriber", name, "notification_id", n.ID, "err", err)
	}
	return outcome
}

// subscribes reports whether the subscriber receives one event type.
func subscribes(sub Subscriber, eventType domain.EventType) bool {
	for _, t := range sub.SubscribedEventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}
