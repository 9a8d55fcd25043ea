package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hylla/witcopier/internal/domain"
)

// CopierName is the subscriber name reported to the host.
const CopierName = "Work Item Copier"

// CopierConfig holds the optional collaborators of a copier.
type CopierConfig struct {
	Activity ActivityRecorder
	Metrics  MetricsRecorder
	IDGen    IDGenerator
	Clock    Clock
}

// CopyReport summarizes how one notification was handled by the copier.
type CopyReport struct {
	Decision      FilterDecision     `json:"decision"`
	Outcome       domain.CopyOutcome `json:"outcome"`
	Reason        SkipReason         `json:"reason,omitempty"`
	Address       string             `json:"address,omitempty"`
	SourceID      int                `json:"source_id,omitempty"`
	TargetID      int                `json:"target_id,omitempty"`
	CopiedFields  []string           `json:"copied_fields,omitempty"`
	SkippedFields []string           `json:"skipped_fields,omitempty"`
}

// WorkItemCopier copies removed items from the source project into the target project.
type WorkItemCopier struct {
	policy   CopyPolicy
	filter   ChangeEventFilter
	locator  StoreLocator
	activity ActivityRecorder
	metrics  MetricsRecorder
	idGen    IDGenerator
	clock    Clock
}

// NewWorkItemCopier constructs a new value for this package.
func NewWorkItemCopier(policy CopyPolicy, locator StoreLocator, cfg CopierConfig) *WorkItemCopier {
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.IDGen == nil {
		cfg.IDGen = func() string { return "" }
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &WorkItemCopier{
		policy:   policy,
		filter:   NewChangeEventFilter(policy),
		locator:  locator,
		activity: cfg.Activity,
		metrics:  cfg.Metrics,
		idGen:    cfg.IDGen,
		clock:    cfg.Clock,
	}
}

// Name returns the subscriber name.
func (c *WorkItemCopier) Name() string { return CopierName }

// Priority returns the subscriber priority.
func (c *WorkItemCopier) Priority() domain.SubscriberPriority { return domain.PriorityNormal }

// SubscribedEventTypes returns the payload kinds this subscriber receives.
func (c *WorkItemCopier) SubscribedEventTypes() []domain.EventType {
	return []domain.EventType{domain.EventWorkItemChanged}
}

// Policy returns the policy the copier runs with.
func (c *WorkItemCopier) Policy() CopyPolicy { return c.policy }

// Evaluate runs only the notification filter.
func (c *WorkItemCopier) Evaluate(category domain.NotificationCategory, n domain.Notification) FilterDecision {
	return c.filter.Evaluate(category, n)
}

// ProcessEvent handles one notification. The result always permits the triggering action;
// store failures are returned as the error.
func (c *WorkItemCopier) ProcessEvent(ctx context.Context, rc domain.RequestContext, category domain.NotificationCategory, n domain.Notification) (domain.EventResult, error) {
	_, err := c.Copy(ctx, rc, category, n)
	return domain.Permitted(), err
}

// Copy evaluates one notification and, when it qualifies, clones the source item.
func (c *WorkItemCopier) Copy(ctx context.Context, rc domain.RequestContext, category domain.NotificationCategory, n domain.Notification) (CopyReport, error) {
	started := c.clock()
	decision := c.filter.Evaluate(category, n)
	report := CopyReport{Decision: decision, SourceID: decision.SourceID}
	if !decision.Copy {
		report.Outcome = domain.CopyOutcomeSkipped
		report.Reason = decision.Reason
		c.metrics.ObserveCopy(report.Outcome, report.Reason, c.clock().Sub(started))
		log.Debug("notification skipped", "notification_id", n.ID, "reason", decision.Reason)
		return report, nil
	}

	err := c.copyItem(ctx, rc, decision.SourceID, &report)
	if err != nil {
		report.Outcome = domain.CopyOutcomeFailed
		log.Error("work item copy failed", "notification_id", n.ID, "source_id", decision.SourceID, "err", err)
	}
	c.metrics.ObserveCopy(report.Outcome, report.Reason, c.clock().Sub(started))
	c.record(ctx, n.ID, report, err)
	return report, err
}

// copyItem locates the store, applies the source type guard, and clones.
func (c *WorkItemCopier) copyItem(ctx context.Context, rc domain.RequestContext, sourceID int, report *CopyReport) error {
	address, err := c.locator.ResolveConnectionAddress(ctx, rc)
	if err != nil {
		return fmt.Errorf("resolve connection address: %w", err)
	}
	report.Address = address
	store, err := c.locator.WorkItemStore(ctx, address)
	if err != nil {
		return fmt.Errorf("open work item store %q: %w", address, err)
	}

	source, err := store.GetWorkItem(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("get source work item %d: %w", sourceID, err)
	}
	if c.policy.RequireTypeMatch() && !strings.EqualFold(source.Type, c.policy.ExpectedType()) {
		report.Outcome = domain.CopyOutcomeSkipped
		report.Reason = SkipTypeMismatch
		log.Info("work item type mismatch", "source_id", sourceID, "type", source.Type, "expected", c.policy.ExpectedType())
		return nil
	}

	target, err := c.targetType(ctx, store)
	if err != nil {
		return err
	}
	result, err := NewWorkItemCloner(c.policy, store).Clone(ctx, source, target)
	if err != nil {
		return err
	}
	report.CopiedFields = result.CopiedFields
	report.SkippedFields = result.SkippedFields
	if result.Skipped {
		report.Outcome = domain.CopyOutcomeSkipped
		report.Reason = result.Reason
		log.Info("target project has no matching type", "project", c.policy.TargetProject(), "type", c.policy.ExpectedType())
		return nil
	}
	report.Outcome = domain.CopyOutcomeCopied
	report.TargetID = result.Item.ID
	log.Info("work item copied", "source_id", sourceID, "target_id", result.Item.ID, "project", c.policy.TargetProject(), "skipped_fields", len(result.SkippedFields))
	return nil
}

// targetType looks up the expected type in the target project; nil when the project lacks it.
func (c *WorkItemCopier) targetType(ctx context.Context, store WorkItemStore) (*domain.WorkItemType, error) {
	types, err := store.ListWorkItemTypes(ctx, c.policy.TargetProject())
	if err != nil {
		return nil, fmt.Errorf("list work item types for %q: %w", c.policy.TargetProject(), err)
	}
	for i := range types {
		if strings.EqualFold(types[i].Name, c.policy.ExpectedType()) {
			return &types[i], nil
		}
	}
	return nil, nil
}

// record writes one ledger entry; ledger failures are logged and never surface.
func (c *WorkItemCopier) record(ctx context.Context, notificationID string, report CopyReport, copyErr error) {
	if c.activity == nil {
		return
	}
	activity, err := domain.NewCopyActivity(c.idGen(), report.Outcome, c.clock())
	if err != nil {
		log.Warn("copy activity not recorded", "notification_id", notificationID, "err", err)
		return
	}
	activity.NotificationID = notificationID
	activity.SourceProject = c.policy.SourceProject()
	activity.SourceID = report.SourceID
	activity.TargetProject = c.policy.TargetProject()
	activity.TargetID = report.TargetID
	activity.Reason = string(report.Reason)
	activity.SkippedFields = report.SkippedFields
	if copyErr != nil {
		activity.Error = copyErr.Error()
	}
	if err := c.activity.RecordCopyActivity(ctx, activity); err != nil {
		log.Warn("copy activity not recorded", "notification_id", notificationID, "err", err)
	}
}
