package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hylla/witcopier/internal/domain"
)

type fakeLocator struct {
	store      WorkItemStore
	resolveErr error
	storeErr   error
	resolved   int
	addresses  []string
}

func (f *fakeLocator) ResolveConnectionAddress(_ context.Context, rc domain.RequestContext) (string, error) {
	f.resolved++
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "https://tfs.example.test/" + rc.ServiceHostName, nil
}

func (f *fakeLocator) WorkItemStore(_ context.Context, address string) (WorkItemStore, error) {
	f.addresses = append(f.addresses, address)
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return f.store, nil
}

type recordedCopy struct {
	outcome domain.CopyOutcome
	reason  SkipReason
}

type fakeMetrics struct {
	notifications int
	copies        []recordedCopy
	subscribers   map[string][]bool
}

func (f *fakeMetrics) ObserveNotification(domain.NotificationCategory, domain.EventType) {
	f.notifications++
}

func (f *fakeMetrics) ObserveSubscriber(name string, success bool, _ time.Duration) {
	if f.subscribers == nil {
		f.subscribers = map[string][]bool{}
	}
	f.subscribers[name] = append(f.subscribers[name], success)
}

func (f *fakeMetrics) ObserveCopy(outcome domain.CopyOutcome, reason SkipReason, _ time.Duration) {
	f.copies = append(f.copies, recordedCopy{outcome: outcome, reason: reason})
}

// seededRepo returns a store holding Scrum Bug 42 and a CopyTarget project with a Bug type.
func seededRepo(t *testing.T) *fakeRepo {
	t.Helper()
	repo := newFakeRepo()
	now := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
	for _, name := range []string{"Scrum", "CopyTarget"} {
		p, err := domain.NewProject(name, "", now)
		if err != nil {
			t.Fatalf("NewProject() error = %v", err)
		}
		if err := repo.UpsertProject(context.Background(), p); err != nil {
			t.Fatalf("UpsertProject() error = %v", err)
		}
		if err := repo.UpsertWorkItemType(context.Background(), bugType(t, name)); err != nil {
			t.Fatalf("UpsertWorkItemType() error = %v", err)
		}
	}
	repo.items[42] = exampleBug()
	return repo
}

func newTestCopier(repo *fakeRepo, locator *fakeLocator, metrics *fakeMetrics) *WorkItemCopier {
	now := time.Date(2026, 2, 22, 11, 0, 0, 0, time.UTC)
	seq := 0
	return NewWorkItemCopier(DefaultCopyPolicy(), locator, CopierConfig{
		Activity: repo,
		Metrics:  metrics,
		IDGen: func() string {
			seq++
			return "act-" + string(rune('0'+seq))
		},
		Clock: func() time.Time { return now },
	})
}

// TestWorkItemCopierSubscriberContract verifies behavior for the covered scenario.
func TestWorkItemCopierSubscriberContract(t *testing.T) {
	c := NewWorkItemCopier(DefaultCopyPolicy(), &fakeLocator{}, CopierConfig{})
	if c.Name() != "Work Item Copier" {
		t.Fatalf("unexpected name %q", c.Name())
	}
	if c.Priority() != domain.PriorityNormal {
		t.Fatalf("unexpected priority %v", c.Priority())
	}
	if diff := cmp.Diff([]domain.EventType{domain.EventWorkItemChanged}, c.SubscribedEventTypes()); diff != "" {
		t.Fatalf("subscribed types mismatch (-want +got):\n%s", diff)
	}
}

// TestWorkItemCopierCopiesRemovedBug verifies behavior for the covered scenario.
func TestWorkItemCopierCopiesRemovedBug(t *testing.T) {
	repo := seededRepo(t)
	locator := &fakeLocator{store: repo}
	metrics := &fakeMetrics{}
	c := newTestCopier(repo, locator, metrics)

	rc := domain.RequestContext{ServiceHostName: "DefaultCollection"}
	result, err := c.ProcessEvent(context.Background(), rc, domain.CategoryNotification, removedNotification("Scrum", "Removed", 42))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if diff := cmp.Diff(domain.Permitted(), result); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected exactly one new item, got %d", len(repo.saved))
	}
	created := repo.saved[0]
	wantValues := map[string]any{
		domain.FieldID:           nil,
		domain.FieldTitle:        "Crash on save",
		fieldPriority:            2,
		domain.FieldState:        nil,
		domain.FieldAreaPath:     nil,
		domain.FieldWorkItemType: "Bug",
		domain.FieldTeamProject:  "CopyTarget",
	}
	if diff := cmp.Diff(wantValues, created.Values()); diff != "" {
		t.Fatalf("created values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://tfs.example.test/DefaultCollection"}, locator.addresses); diff != "" {
		t.Fatalf("addresses mismatch (-want +got):\n%s", diff)
	}
	if len(repo.activity) != 1 || repo.activity[0].Outcome != domain.CopyOutcomeCopied || repo.activity[0].TargetID != created.ID {
		t.Fatalf("unexpected activity %#v", repo.activity)
	}
	if diff := cmp.Diff([]recordedCopy{{outcome: domain.CopyOutcomeCopied}}, metrics.copies, cmp.AllowUnexported(recordedCopy{})); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
}

// TestWorkItemCopierSkipsWithoutLocating verifies behavior for the covered scenario.
func TestWorkItemCopierSkipsWithoutLocating(t *testing.T) {
	cases := []struct {
		name     string
		category domain.NotificationCategory
		n        domain.Notification
		reason   SkipReason
	}{
		{name: "other event", category: domain.CategoryNotification, n: domain.Notification{Payload: domain.OtherEvent{Type: "checkin"}}, reason: SkipUnsupportedPayload},
		{name: "wrong project", category: domain.CategoryNotification, n: removedNotification("Kanban", "Removed", 42), reason: SkipWrongProject},
		{name: "wrong state", category: domain.CategoryNotification, n: removedNotification("Scrum", "Resolved", 42), reason: SkipWrongState},
		{name: "missing id", category: domain.CategoryNotification, n: removedNotification("Scrum", "Removed", 0), reason: SkipMissingID},
		{name: "zero old id", category: domain.CategoryNotification, n: createdNotification("Scrum", "Removed", 7), reason: SkipMissingID},
		{name: "decision", category: domain.CategoryDecision, n: removedNotification("Scrum", "Removed", 42), reason: SkipWrongCategory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := seededRepo(t)
			locator := &fakeLocator{store: repo}
			c := newTestCopier(repo, locator, &fakeMetrics{})

			result, err := c.ProcessEvent(context.Background(), domain.RequestContext{}, tc.category, tc.n)
			if err != nil {
				t.Fatalf("ProcessEvent() error = %v", err)
			}
			if result.Status != domain.StatusActionPermitted {
				t.Fatalf("expected permitted, got %#v", result)
			}
			report, err := c.Copy(context.Background(), domain.RequestContext{}, tc.category, tc.n)
			if err != nil {
				t.Fatalf("Copy() error = %v", err)
			}
			if report.Reason != tc.reason || report.Outcome != domain.CopyOutcomeSkipped {
				t.Fatalf("unexpected report %#v", report)
			}
			if locator.resolved != 0 || repo.getCalls != 0 || len(repo.saved) != 0 {
				t.Fatalf("expected no store access, resolved=%d get=%d saved=%d", locator.resolved, repo.getCalls, len(repo.saved))
			}
			if len(repo.activity) != 0 {
				t.Fatalf("expected filter skips to stay off the ledger, got %#v", repo.activity)
			}
		})
	}
}

// TestWorkItemCopierTypeGuard verifies behavior for the covered scenario.
func TestWorkItemCopierTypeGuard(t *testing.T) {
	repo := seededRepo(t)
	task := exampleBug()
	task.Type = "Task"
	repo.items[42] = task
	c := newTestCopier(repo, &fakeLocator{store: repo}, &fakeMetrics{})

	report, err := c.Copy(context.Background(), domain.RequestContext{}, domain.CategoryNotification, removedNotification("Scrum", "Removed", 42))
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if report.Reason != SkipTypeMismatch || len(repo.saved) != 0 {
		t.Fatalf("expected type mismatch skip, got %#v saved=%d", report, len(repo.saved))
	}

	in := DefaultCopyPolicyInput()
	in.RequireTypeMatch = false
	policy, err := NewCopyPolicy(in)
	if err != nil {
		t.Fatalf("NewCopyPolicy() error = %v", err)
	}
	loose := NewWorkItemCopier(policy, &fakeLocator{store: repo}, CopierConfig{})
	report, err = loose.Copy(context.Background(), domain.RequestContext{}, domain.CategoryNotification, removedNotification("Scrum", "Removed", 42))
	if err != nil {
		t.Fatalf("Copy(loose) error = %v", err)
	}
	if report.Outcome != domain.CopyOutcomeCopied || len(repo.saved) != 1 || repo.saved[0].Type != "Bug" {
		t.Fatalf("expected copy into Bug with guard disabled, got %#v", report)
	}
}

// TestWorkItemCopierTypeNamesIgnoreCase verifies behavior for the covered scenario.
func TestWorkItemCopierTypeNamesIgnoreCase(t *testing.T) {
	repo := seededRepo(t)
	source := exampleBug()
	source.Type = "bug"
	repo.items[42] = source
	target := repo.types[typeKey("CopyTarget", "Bug")]
	delete(repo.types, typeKey("CopyTarget", "Bug"))
	target.Name = "BUG"
	repo.types[typeKey("CopyTarget", "BUG")] = target
	c := newTestCopier(repo, &fakeLocator{store: repo}, &fakeMetrics{})

	report, err := c.Copy(context.Background(), domain.RequestContext{}, domain.CategoryNotification, removedNotification("Scrum", "Removed", 42))
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if report.Outcome != domain.CopyOutcomeCopied || len(repo.saved) != 1 {
		t.Fatalf("expected copy across type name case, got %#v saved=%d", report, len(repo.saved))
	}
	if repo.saved[0].Type != "BUG" {
		t.Fatalf("expected target type name to be kept, got %q", repo.saved[0].Type)
	}
}

// TestWorkItemCopierMissingTargetTypeIsSilent verifies behavior for the covered scenario.
func TestWorkItemCopierMissingTargetTypeIsSilent(t *testing.T) {
	repo := seededRepo(t)
	delete(repo.types, typeKey("CopyTarget", "Bug"))
	c := newTestCopier(repo, &fakeLocator{store: repo}, &fakeMetrics{})

	result, err := c.ProcessEvent(context.Background(), domain.RequestContext{}, domain.CategoryNotification, removedNotification("Scrum", "Removed", 42))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if result.Status != domain.StatusActionPermitted || len(repo.saved) != 0 {
		t.Fatalf("expected silent skip, got %#v saved=%d", result, len(repo.saved))
	}
	if len(repo.activity) != 1 || repo.activity[0].Reason != string(SkipMissingTargetType) {
		t.Fatalf("unexpected activity %#v", repo.activity)
	}
}

// TestWorkItemCopierStoreErrorsPropagate verifies behavior for the covered scenario.
func TestWorkItemCopierStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	cases := map[string]func(*fakeRepo, *fakeLocator){
		"resolve": func(_ *fakeRepo, l *fakeLocator) { l.resolveErr = boom },
		"open":    func(_ *fakeRepo, l *fakeLocator) { l.storeErr = boom },
		"get":     func(r *fakeRepo, _ *fakeLocator) { r.getErr = boom },
		"save":    func(r *fakeRepo, _ *fakeLocator) { r.saveErr = boom },
	}
	for name, arrange := range cases {
		t.Run(name, func(t *testing.T) {
			repo := seededRepo(t)
			locator := &fakeLocator{store: repo}
			arrange(repo, locator)
			c := newTestCopier(repo, locator, &fakeMetrics{})

			result, err := c.ProcessEvent(context.Background(), domain.RequestContext{}, domain.CategoryNotification, removedNotification("Scrum", "Removed", 42))
			if !errors.Is(err, boom) {
				t.Fatalf("expected wrapped store error, got %v", err)
			}
			if result.Status != domain.StatusActionPermitted {
				t.Fatalf("expected permitted result even on failure, got %#v", result)
			}
			if len(repo.activity) != 1 || repo.activity[0].Outcome != domain.CopyOutcomeFailed || repo.activity[0].Error == "" {
				t.Fatalf("expected failed activity entry, got %#v", repo.activity)
			}
		})
	}
}

// TestWorkItemCopierMissingSourceItem verifies behavior for the covered scenario.
func TestWorkItemCopierMissingSourceItem(t *testing.T) {
	repo := seededRepo(t)
	c := newTestCopier(repo, &fakeLocator{store: repo}, &fakeMetrics{})
	_, err := c.ProcessEvent(context.Background(), domain.RequestContext{}, domain.CategoryNotification, removedNotification("Scrum", "Removed", 99))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
