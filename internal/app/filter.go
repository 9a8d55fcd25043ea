package app

import (
	"github.com/hylla/witcopier/internal/domain"
)

// SkipReason names why a notification did not produce a copy.
type SkipReason string

// SkipReason values in guard order.
const (
	SkipNone               SkipReason = ""
	SkipWrongCategory      SkipReason = "wrong_category"
	SkipUnsupportedPayload SkipReason = "unsupported_payload"
	SkipNoStateChange      SkipReason = "no_state_change"
	SkipWrongProject       SkipReason = "wrong_project"
	SkipWrongState         SkipReason = "wrong_state"
	SkipMissingID          SkipReason = "missing_id"
	SkipTypeMismatch       SkipReason = "type_mismatch"
	SkipMissingTargetType  SkipReason = "missing_target_type"
)

// FilterDecision is the outcome of evaluating one notification.
type FilterDecision struct {
	Copy     bool       `json:"copy"`
	SourceID int        `json:"source_id,omitempty"`
	Reason   SkipReason `json:"reason,omitempty"`
}

func skip(reason SkipReason) FilterDecision {
	return FilterDecision{Reason: reason}
}

// ChangeEventFilter decides whether a notification describes a copyable transition.
type ChangeEventFilter struct {
	policy CopyPolicy
}

// NewChangeEventFilter constructs a filter bound to one policy.
func NewChangeEventFilter(policy CopyPolicy) ChangeEventFilter {
	return ChangeEventFilter{policy: policy}
}

// Evaluate runs the guards in order and stops at the first failing one.
func (f ChangeEventFilter) Evaluate(category domain.NotificationCategory, n domain.Notification) FilterDecision {
	if category != domain.CategoryNotification {
		return skip(SkipWrongCategory)
	}
	event, ok := n.WorkItemChanged()
	if !ok {
		return skip(SkipUnsupportedPayload)
	}
	state, ok := event.ChangedFields.StringChange(domain.FieldState)
	if !ok {
		return skip(SkipNoStateChange)
	}
	if event.PortfolioProject != f.policy.SourceProject() {
		return skip(SkipWrongProject)
	}
	if state.NewValue != f.policy.TriggerState() {
		return skip(SkipWrongState)
	}
	id, ok := sourceIDField(event)
	if !ok || id.OldValue <= 0 {
		return skip(SkipMissingID)
	}
	return FilterDecision{Copy: true, SourceID: id.OldValue}
}

// sourceIDField finds the identifier among core fields first, then changed fields.
func sourceIDField(event domain.WorkItemChangedEvent) (domain.IntegerField, bool) {
	if id, ok := event.CoreFields.IntegerChange(domain.FieldID); ok {
		return id, true
	}
	return event.ChangedFields.IntegerChange(domain.FieldID)
}
