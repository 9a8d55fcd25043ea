// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"

	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized reports a failed shared-secret check.
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnavailable reports a surface whose backing service is not configured.
var ErrUnavailable = errors.New("service unavailable")

// NotificationRequest carries one notification plus the collection it came from.
type NotificationRequest struct {
	ServiceHostName string              `json:"service_host_name,omitempty"`
	RequestID       string              `json:"request_id,omitempty"`
	Category        string              `json:"category,omitempty"`
	Notification    domain.Notification `json:"notification"`
}

// GetWorkItemRequest identifies one work item in one collection.
type GetWorkItemRequest struct {
	ID              int
	ServiceHostName string
}

// Evaluation is the dry-run result of the copier filter.
type Evaluation struct {
	NotificationID string             `json:"notification_id,omitempty"`
	EventType      domain.EventType   `json:"event_type"`
	Decision       app.FilterDecision `json:"decision"`
	Policy         PolicyView         `json:"policy"`
}

// PolicyView is the read-only transport form of the copy policy.
type PolicyView struct {
	SourceProject    string   `json:"source_project"`
	TargetProject    string   `json:"target_project"`
	TriggerState     string   `json:"trigger_state"`
	ExpectedType     string   `json:"expected_type"`
	ExcludedFields   []string `json:"excluded_fields"`
	RequireTypeMatch bool     `json:"require_type_match"`
}

// NotificationService dispatches and evaluates notifications.
type NotificationService interface {
	ProcessNotification(context.Context, NotificationRequest) (app.DispatchReport, error)
	EvaluateNotification(context.Context, NotificationRequest) (Evaluation, error)
}

// WorkItemReader reads work items through the located store.
type WorkItemReader interface {
	GetWorkItem(context.Context, GetWorkItemRequest) (domain.WorkItem, error)
}

// ActivityReader lists the copy ledger.
type ActivityReader interface {
	ListCopyActivity(context.Context, int) ([]domain.CopyActivity, error)
}

// Service is the full surface both transports serve.
type Service interface {
	NotificationService
	WorkItemReader
	ActivityReader
}
