package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
)

// AppServiceAdapter maps transport contracts onto the dispatcher, copier, and located stores.
type AppServiceAdapter struct {
	dispatcher *app.Dispatcher
	copier     *app.WorkItemCopier
	locator    app.StoreLocator
	activity   ActivityReader
}

// AdapterDeps lists the app collaborators behind an AppServiceAdapter.
type AdapterDeps struct {
	Dispatcher *app.Dispatcher
	Copier     *app.WorkItemCopier
	Locator    app.StoreLocator
	Activity   ActivityReader
}

var _ Service = (*AppServiceAdapter)(nil)

// NewAppServiceAdapter builds one common adapter.
func NewAppServiceAdapter(deps AdapterDeps) *AppServiceAdapter {
	return &AppServiceAdapter{
		dispatcher: deps.Dispatcher,
		copier:     deps.Copier,
		locator:    deps.Locator,
		activity:   deps.Activity,
	}
}

// ProcessNotification dispatches one notification to every registered subscriber.
func (a *AppServiceAdapter) ProcessNotification(ctx context.Context, in NotificationRequest) (app.DispatchReport, error) {
	if a == nil || a.dispatcher == nil {
		return app.DispatchReport{}, fmt.Errorf("dispatcher is not configured: %w", ErrUnavailable)
	}
	category, err := normalizeNotificationRequest(in)
	if err != nil {
		return app.DispatchReport{}, err
	}
	rc := domain.RequestContext{
		ServiceHostName: strings.TrimSpace(in.ServiceHostName),
		RequestID:       strings.TrimSpace(in.RequestID),
	}
	return a.dispatcher.Dispatch(ctx, rc, category, in.Notification), nil
}

// EvaluateNotification runs the copier filter without touching any store.
func (a *AppServiceAdapter) EvaluateNotification(_ context.Context, in NotificationRequest) (Evaluation, error) {
	if a == nil || a.copier == nil {
		return Evaluation{}, fmt.Errorf("copier is not configured: %w", ErrUnavailable)
	}
	category, err := normalizeNotificationRequest(in)
	if err != nil {
		return Evaluation{}, err
	}
	if category == "" {
		category = in.Notification.Category
	}
	if category == "" {
		category = domain.CategoryNotification
	}
	policy := a.copier.Policy()
	return Evaluation{
		NotificationID: in.Notification.ID,
		EventType:      in.Notification.EventType(),
		Decision:       a.copier.Evaluate(category, in.Notification),
		Policy: PolicyView{
			SourceProject:    policy.SourceProject(),
			TargetProject:    policy.TargetProject(),
			TriggerState:     policy.TriggerState(),
			ExpectedType:     policy.ExpectedType(),
			ExcludedFields:   policy.ExcludedFields(),
			RequireTypeMatch: policy.RequireTypeMatch(),
		},
	}, nil
}

// GetWorkItem reads one item from the store of the requested collection.
func (a *AppServiceAdapter) GetWorkItem(ctx context.Context, in GetWorkItemRequest) (domain.WorkItem, error) {
	if a == nil || a.locator == nil {
		return domain.WorkItem{}, fmt.Errorf("store locator is not configured: %w", ErrUnavailable)
	}
	if in.ID <= 0 {
		return domain.WorkItem{}, fmt.Errorf("id must be > 0: %w", ErrInvalidRequest)
	}
	address, err := a.locator.ResolveConnectionAddress(ctx, domain.RequestContext{ServiceHostName: strings.TrimSpace(in.ServiceHostName)})
	if err != nil {
		return domain.WorkItem{}, mapAppError("resolve connection address", err)
	}
	store, err := a.locator.WorkItemStore(ctx, address)
	if err != nil {
		return domain.WorkItem{}, mapAppError("open work item store", err)
	}
	item, err := store.GetWorkItem(ctx, in.ID)
	if err != nil {
		return domain.WorkItem{}, mapAppError("get work item", err)
	}
	return item, nil
}

// ListCopyActivity lists the newest copy ledger entries.
func (a *AppServiceAdapter) ListCopyActivity(ctx context.Context, limit int) ([]domain.CopyActivity, error) {
	if a == nil || a.activity == nil {
		return nil, fmt.Errorf("activity ledger is not configured: %w", ErrUnavailable)
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0: %w", ErrInvalidRequest)
	}
	items, err := a.activity.ListCopyActivity(ctx, limit)
	if err != nil {
		return nil, mapAppError("list copy activity", err)
	}
	return items, nil
}

// normalizeNotificationRequest validates the payload and parses the optional category override.
func normalizeNotificationRequest(in NotificationRequest) (domain.NotificationCategory, error) {
	if in.Notification.Payload == nil {
		return "", fmt.Errorf("notification payload is required: %w", ErrInvalidRequest)
	}
	raw := strings.TrimSpace(in.Category)
	if raw == "" {
		return "", nil
	}
	category, err := domain.ParseNotificationCategory(raw)
	if err != nil {
		return "", fmt.Errorf("category: %w", errors.Join(ErrInvalidRequest, err))
	}
	return category, nil
}

// mapAppError maps app and domain errors onto transport error classes.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidCategory),
		errors.Is(err, app.ErrNoConnectionAddress):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
