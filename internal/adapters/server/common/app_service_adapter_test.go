package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
)

// stubStore serves one fixed work item.
type stubStore struct {
	item domain.WorkItem
}

func (s stubStore) GetWorkItem(_ context.Context, id int) (domain.WorkItem, error) {
	if id != s.item.ID {
		return domain.WorkItem{}, app.ErrNotFound
	}
	return s.item, nil
}

func (s stubStore) ListWorkItemTypes(context.Context, string) ([]domain.WorkItemType, error) {
	return nil, nil
}

func (s stubStore) SaveWorkItem(_ context.Context, item domain.WorkItem) (domain.WorkItem, error) {
	return item, nil
}

// stubLocator records the resolved host.
type stubLocator struct {
	store    app.WorkItemStore
	lastHost string
}

func (l *stubLocator) ResolveConnectionAddress(_ context.Context, rc domain.RequestContext) (string, error) {
	l.lastHost = rc.ServiceHostName
	if rc.ServiceHostName == "" {
		return "", app.ErrNoConnectionAddress
	}
	return "https://tfs.example.test/tfs/" + rc.ServiceHostName, nil
}

func (l *stubLocator) WorkItemStore(context.Context, string) (app.WorkItemStore, error) {
	return l.store, nil
}

type stubActivity struct {
	items     []domain.CopyActivity
	lastLimit int
}

func (s *stubActivity) ListCopyActivity(_ context.Context, limit int) ([]domain.CopyActivity, error) {
	s.lastLimit = limit
	return s.items, nil
}

func removedEvent(project string) domain.Notification {
	return domain.Notification{ID: "n-1", Payload: domain.WorkItemChangedEvent{
		PortfolioProject: project,
		ChangedFields:    domain.FieldSet{StringFields: []domain.StringField{{ReferenceName: domain.FieldState, OldValue: "Active", NewValue: "Removed"}}},
		CoreFields:       domain.FieldSet{IntegerFields: []domain.IntegerField{{ReferenceName: domain.FieldID, OldValue: 42, NewValue: 42}}},
	}}
}

func newTestAdapter(t *testing.T) (*AppServiceAdapter, *stubLocator, *stubActivity) {
	t.Helper()
	locator := &stubLocator{store: stubStore{item: domain.WorkItem{ID: 42, Project: "Scrum", Type: "Bug"}}}
	copier := app.NewWorkItemCopier(app.DefaultCopyPolicy(), locator, app.CopierConfig{})
	dispatcher := app.NewDispatcher(nil, func() string { return "generated" }, func() time.Time {
		return time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC)
	})
	if err := dispatcher.Register(copier); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	activity := &stubActivity{items: []domain.CopyActivity{{ID: "a-1", Outcome: domain.CopyOutcomeCopied}}}
	return NewAppServiceAdapter(AdapterDeps{Dispatcher: dispatcher, Copier: copier, Locator: locator, Activity: activity}), locator, activity
}

// TestAppServiceAdapterProcessNotification verifies behavior for the covered scenario.
func TestAppServiceAdapterProcessNotification(t *testing.T) {
	adapter, locator, _ := newTestAdapter(t)

	report, err := adapter.ProcessNotification(context.Background(), NotificationRequest{
		ServiceHostName: " Fabrikam ",
		Notification:    removedEvent("Other"),
	})
	if err != nil {
		t.Fatalf("ProcessNotification() error = %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Subscriber != app.CopierName || report.Status != domain.StatusActionPermitted {
		t.Fatalf("unexpected report %#v", report)
	}
	if locator.lastHost != "" {
		t.Fatalf("expected no store lookup for a skipped notification, got host %q", locator.lastHost)
	}

	if _, err := adapter.ProcessNotification(context.Background(), NotificationRequest{Notification: domain.Notification{}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing payload, got %v", err)
	}
	if _, err := adapter.ProcessNotification(context.Background(), NotificationRequest{Category: "bogus", Notification: removedEvent("Scrum")}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad category, got %v", err)
	}
	if _, err := NewAppServiceAdapter(AdapterDeps{}).ProcessNotification(context.Background(), NotificationRequest{Notification: removedEvent("Scrum")}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// TestAppServiceAdapterEvaluateNotification verifies behavior for the covered scenario.
func TestAppServiceAdapterEvaluateNotification(t *testing.T) {
	adapter, locator, _ := newTestAdapter(t)

	eval, err := adapter.EvaluateNotification(context.Background(), NotificationRequest{Notification: removedEvent("Scrum")})
	if err != nil {
		t.Fatalf("EvaluateNotification() error = %v", err)
	}
	if !eval.Decision.Copy || eval.Decision.SourceID != 42 || eval.EventType != domain.EventWorkItemChanged {
		t.Fatalf("unexpected evaluation %#v", eval)
	}
	if eval.Policy.SourceProject != "Scrum" || eval.Policy.TargetProject != "CopyTarget" || len(eval.Policy.ExcludedFields) != 5 {
		t.Fatalf("unexpected policy view %#v", eval.Policy)
	}
	if locator.lastHost != "" {
		t.Fatal("evaluation must not locate a store")
	}

	eval, err = adapter.EvaluateNotification(context.Background(), NotificationRequest{Category: "decision", Notification: removedEvent("Scrum")})
	if err != nil {
		t.Fatalf("EvaluateNotification(decision) error = %v", err)
	}
	if eval.Decision.Copy || eval.Decision.Reason != app.SkipWrongCategory {
		t.Fatalf("expected wrong category skip, got %#v", eval.Decision)
	}
}

// TestAppServiceAdapterGetWorkItem verifies behavior for the covered scenario.
func TestAppServiceAdapterGetWorkItem(t *testing.T) {
	adapter, locator, _ := newTestAdapter(t)

	item, err := adapter.GetWorkItem(context.Background(), GetWorkItemRequest{ID: 42, ServiceHostName: "Fabrikam"})
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if item.ID != 42 || locator.lastHost != "Fabrikam" {
		t.Fatalf("unexpected item %#v host %q", item, locator.lastHost)
	}

	cases := []struct {
		name string
		req  GetWorkItemRequest
		want error
	}{
		{name: "invalid id", req: GetWorkItemRequest{ID: 0, ServiceHostName: "Fabrikam"}, want: ErrInvalidRequest},
		{name: "missing", req: GetWorkItemRequest{ID: 7, ServiceHostName: "Fabrikam"}, want: ErrNotFound},
		{name: "no address", req: GetWorkItemRequest{ID: 42}, want: ErrInvalidRequest},
	}
	for _, tc := range cases {
		if _, err := adapter.GetWorkItem(context.Background(), tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

// TestAppServiceAdapterListCopyActivity verifies behavior for the covered scenario.
func TestAppServiceAdapterListCopyActivity(t *testing.T) {
	adapter, _, activity := newTestAdapter(t)

	items, err := adapter.ListCopyActivity(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListCopyActivity() error = %v", err)
	}
	if len(items) != 1 || activity.lastLimit != 5 {
		t.Fatalf("unexpected activity %#v limit=%d", items, activity.lastLimit)
	}
	if _, err := adapter.ListCopyActivity(context.Background(), -1); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := NewAppServiceAdapter(AdapterDeps{}).ListCopyActivity(context.Background(), 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
