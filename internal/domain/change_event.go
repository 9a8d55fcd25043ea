package domain

import (
	"strings"
	"time"
)

// CopyOutcome describes how one copy attempt ended.
type CopyOutcome string

// CopyOutcome values used by the local activity ledger.
const (
	CopyOutcomeCopied  CopyOutcome = "copied"
	CopyOutcomeSkipped CopyOutcome = "skipped"
	CopyOutcomeFailed  CopyOutcome = "failed"
)

// CopyActivity represents a single activity-log entry for one processed notification.
type CopyActivity struct {
	ID             string
	NotificationID string
	SourceProject  string
	SourceID       int
	TargetProject  string
	TargetID       int
	Outcome        CopyOutcome
	Reason         string
	Error          string
	SkippedFields  []string
	OccurredAt     time.Time
}

// NewCopyActivity validates and constructs one ledger entry.
func NewCopyActivity(id string, outcome CopyOutcome, now time.Time) (CopyActivity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return CopyActivity{}, ErrInvalidID
	}
	switch outcome {
	case CopyOutcomeCopied, CopyOutcomeSkipped, CopyOutcomeFailed:
	default:
		return CopyActivity{}, ErrInvalidField
	}
	return CopyActivity{
		ID:         id,
		Outcome:    outcome,
		OccurredAt: now.UTC(),
	}, nil
}
