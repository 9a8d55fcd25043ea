package app

import (
	"context"
	"time"

	"github.com/hylla/witcopier/internal/domain"
)

// WorkItemStore is the work item tracking surface one collection exposes.
type WorkItemStore interface {
	GetWorkItem(context.Context, int) (domain.WorkItem, error)
	ListWorkItemTypes(context.Context, string) ([]domain.WorkItemType, error)
	SaveWorkItem(context.Context, domain.WorkItem) (domain.WorkItem, error)
}

// StoreLocator resolves the collection a notification came from into a bound store.
type StoreLocator interface {
	ResolveConnectionAddress(context.Context, domain.RequestContext) (string, error)
	WorkItemStore(context.Context, string) (WorkItemStore, error)
}

// ActivityRecorder persists one copy outcome.
type ActivityRecorder interface {
	RecordCopyActivity(context.Context, domain.CopyActivity) error
}

// MetricsRecorder receives counters and timings for notifications and copies.
type MetricsRecorder interface {
	ObserveNotification(category domain.NotificationCategory, eventType domain.EventType)
	ObserveSubscriber(name string, success bool, duration time.Duration)
	ObserveCopy(outcome domain.CopyOutcome, reason SkipReason, duration time.Duration)
}

// Repository represents the local work item database used for the sqlite store mode and snapshots.
type Repository interface {
	WorkItemStore
	ActivityRecorder

	UpsertProject(context.Context, domain.Project) error
	GetProject(context.Context, string) (domain.Project, error)
	ListProjects(context.Context) ([]domain.Project, error)

	UpsertWorkItemType(context.Context, domain.WorkItemType) error

	PutWorkItem(context.Context, domain.WorkItem) error
	ListWorkItems(context.Context, string) ([]domain.WorkItem, error)

	ListCopyActivity(context.Context, int) ([]domain.CopyActivity, error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveNotification(domain.NotificationCategory, domain.EventType) {}
func (nopMetrics) ObserveSubscriber(string, bool, time.Duration) {}
func (nopMetrics) ObserveCopy(domain.CopyOutcome, SkipReason, time.Duration) {}
