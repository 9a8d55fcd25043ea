package domain

import (
	"fmt"
	"strings"
)

// SubscriberPriority orders subscribers for one notification.
type SubscriberPriority int

// SubscriberPriority values, lowest first.
const (
	PriorityLow SubscriberPriority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the canonical priority name.
func (p SubscriberPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParseSubscriberPriority converts one name into a priority.
func ParseSubscriberPriority(raw string) (SubscriberPriority, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
}

// EventNotificationStatus is the verdict a subscriber returns to the host.
type EventNotificationStatus string

// EventNotificationStatus values.
const (
	StatusActionPermitted EventNotificationStatus = "action_permitted"
	StatusActionDenied    EventNotificationStatus = "action_denied"
	StatusActionApproved  EventNotificationStatus = "action_approved"
)

// EventResult is what a subscriber reports back after handling one notification.
type EventResult struct {
	Status        EventNotificationStatus `json:"status"`
	StatusCode    int                     `json:"status_code"`
	StatusMessage string                  `json:"status_message"`
	Properties    map[string]string       `json:"properties,omitempty"`
}

// Permitted returns the neutral result that lets the triggering action proceed.
func Permitted() EventResult {
	return EventResult{Status: StatusActionPermitted}
}

// RequestContext identifies the collection a notification originated from.
type RequestContext struct {
	ServiceHostName string `json:"service_host_name,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
}
