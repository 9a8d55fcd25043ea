package app

import (
	"context"
	"fmt"

	"github.com/hylla/witcopier/internal/domain"
)

// WorkItemSaver persists a new work item.
type WorkItemSaver interface {
	SaveWorkItem(context.Context, domain.WorkItem) (domain.WorkItem, error)
}

// CloneResult describes what one clone attempt produced.
type CloneResult struct {
	Skipped       bool            `json:"skipped"`
	Reason        SkipReason      `json:"reason,omitempty"`
	Item          domain.WorkItem `json:"item"`
	CopiedFields  []string        `json:"copied_fields,omitempty"`
	SkippedFields []string        `json:"skipped_fields,omitempty"`
}

// WorkItemCloner creates a new item in a target type from an existing item.
type WorkItemCloner struct {
	policy CopyPolicy
	saver  WorkItemSaver
}

// NewWorkItemCloner constructs a cloner that saves through one store.
func NewWorkItemCloner(policy CopyPolicy, saver WorkItemSaver) WorkItemCloner {
	return WorkItemCloner{policy: policy, saver: saver}
}

// Clone copies editable, non-excluded fields into a new item of the target type and saves it.
// A nil target is a silent skip.
func (c WorkItemCloner) Clone(ctx context.Context, source domain.WorkItem, target *domain.WorkItemType) (CloneResult, error) {
	if target == nil {
		return CloneResult{Skipped: true, Reason: SkipMissingTargetType}, nil
	}

	item := target.NewWorkItem()
	result := CloneResult{}
	for _, field := range source.Fields {
		if !field.Editable || c.policy.IsExcluded(field.ReferenceName) {
			continue
		}
		def, ok := target.Definition(field.ReferenceName)
		if !ok || def.ReadOnly {
			result.SkippedFields = append(result.SkippedFields, field.ReferenceName)
			continue
		}
		if err := item.SetValue(def.ReferenceName, field.Value); err != nil {
			return CloneResult{}, fmt.Errorf("copy field %q: %w", field.ReferenceName, err)
		}
		result.CopiedFields = append(result.CopiedFields, def.ReferenceName)
	}

	saved, err := c.saver.SaveWorkItem(ctx, item)
	if err != nil {
		return CloneResult{}, fmt.Errorf("save copied work item: %w", err)
	}
	result.Item = saved
	return result, nil
}
