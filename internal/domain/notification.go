package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NotificationCategory separates pre-commit decision points from post-commit notifications.
type NotificationCategory string

// NotificationCategory values.
const (
	CategoryNotification NotificationCategory = "notification"
	CategoryDecision     NotificationCategory = "decision"
)

// ParseNotificationCategory normalizes one category name.
func ParseNotificationCategory(raw string) (NotificationCategory, error) {
	switch NotificationCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryNotification:
		return CategoryNotification, nil
	case CategoryDecision:
		return CategoryDecision, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
}

// EventType names a notification payload kind.
type EventType string

// EventWorkItemChanged is the payload kind subscribers copy from.
const EventWorkItemChanged EventType = "work_item_changed"

// Payload is the sealed set of notification bodies.
type Payload interface {
	EventType() EventType
	isPayload()
}

// StringField is one before/after pair for a string-valued field.
type StringField struct {
	ReferenceName string `json:"reference_name"`
	Name          string `json:"name,omitempty"`
	OldValue      string `json:"old_value"`
	NewValue      string `json:"new_value"`
}

// IntegerField is one before/after pair for an integer-valued field.
type IntegerField struct {
	ReferenceName string `json:"reference_name"`
	Name          string `json:"name,omitempty"`
	OldValue      int    `json:"old_value"`
	NewValue      int    `json:"new_value"`
}

// FieldSet groups field changes by value kind.
type FieldSet struct {
	StringFields  []StringField  `json:"string_fields,omitempty"`
	IntegerFields []IntegerField `json:"integer_fields,omitempty"`
}

// StringChange returns one string field by reference name.
func (s FieldSet) StringChange(referenceName string) (StringField, bool) {
	for _, f := range s.StringFields {
		if strings.EqualFold(f.ReferenceName, referenceName) {
			return f, true
		}
	}
	return StringField{}, false
}

// IntegerChange returns one integer field by reference name.
func (s FieldSet) IntegerChange(referenceName string) (IntegerField, bool) {
	for _, f := range s.IntegerFields {
		if strings.EqualFold(f.ReferenceName, referenceName) {
			return f, true
		}
	}
	return IntegerField{}, false
}

// IsEmpty reports whether the set carries no changes.
func (s FieldSet) IsEmpty() bool {
	return len(s.StringFields) == 0 && len(s.IntegerFields) == 0
}

// WorkItemChangedEvent reports a committed change to one work item.
type WorkItemChangedEvent struct {
	PortfolioProject string   `json:"portfolio_project"`
	WorkItemID       int      `json:"work_item_id,omitempty"`
	ChangeType       string   `json:"change_type,omitempty"`
	ChangedBy        string   `json:"changed_by,omitempty"`
	ChangedFields    FieldSet `json:"changed_fields"`
	CoreFields       FieldSet `json:"core_fields"`
}

// EventType implements Payload.
func (WorkItemChangedEvent) EventType() EventType { return EventWorkItemChanged }

func (WorkItemChangedEvent) isPayload() {}

// OtherEvent stands in for any payload kind this service does not model.
type OtherEvent struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// EventType implements Payload.
func (e OtherEvent) EventType() EventType { return EventType(e.Type) }

func (OtherEvent) isPayload() {}

// Notification is one server event delivered to subscribers.
type Notification struct {
	ID       string
	Category NotificationCategory
	Payload  Payload
}

// EventType returns the payload kind, or empty when no payload is set.
func (n Notification) EventType() EventType {
	if n.Payload == nil {
		return ""
	}
	return n.Payload.EventType()
}

// WorkItemChanged returns the work-item-changed payload when present.
func (n Notification) WorkItemChanged() (WorkItemChangedEvent, bool) {
	switch p := n.Payload.(type) {
	case WorkItemChangedEvent:
		return p, true
	case *WorkItemChangedEvent:
		if p == nil {
			return WorkItemChangedEvent{}, false
		}
		return *p, true
	default:
		return WorkItemChangedEvent{}, false
	}
}

// notificationWire is the JSON form of Notification.
type notificationWire struct {
	ID       string               `json:"id,omitempty"`
	Category NotificationCategory `json:"category,omitempty"`
	Type     string               `json:"type"`
	Payload  json.RawMessage      `json:"payload,omitempty"`
}

// MarshalJSON encodes the payload under a "type" discriminator.
func (n Notification) MarshalJSON() ([]byte, error) {
	wire := notificationWire{ID: n.ID, Category: n.Category}
	switch p := n.Payload.(type) {
	case nil:
		return nil, ErrMissingEventType
	case WorkItemChangedEvent:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode work item changed payload: %w", err)
		}
		wire.Type = string(EventWorkItemChanged)
		wire.Payload = raw
	case *WorkItemChangedEvent:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode work item changed payload: %w", err)
		}
		wire.Type = string(EventWorkItemChanged)
		wire.Payload = raw
	case OtherEvent:
		wire.Type = p.Type
		wire.Payload = p.Body
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, n.Payload)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a notification and selects the payload variant by "type".
func (n *Notification) UnmarshalJSON(data []byte) error {
	var wire notificationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	eventType := strings.TrimSpace(wire.Type)
	if eventType == "" {
		return ErrMissingEventType
	}
	category := wire.Category
	if category != "" {
		parsed, err := ParseNotificationCategory(string(category))
		if err != nil {
			return err
		}
		category = parsed
	}

	out := Notification{ID: strings.TrimSpace(wire.ID), Category: category}
	if EventType(eventType) == EventWorkItemChanged {
		var event WorkItemChangedEvent
		if len(wire.Payload) > 0 {
			if err := json.Unmarshal(wire.Payload, &event); err != nil {
				return fmt.Errorf("decode work item changed payload: %w", err)
			}
		}
		out.Payload = event
	} else {
		out.Payload = OtherEvent{Type: eventType, Body: wire.Payload}
	}
	*n = out
	return nil
}
