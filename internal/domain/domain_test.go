package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// TestNewProjectValidation verifies behavior for the covered scenario.
func TestNewProjectValidation(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	if _, err := NewProject(" ", "", now); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := NewProject(`Scrum\Team1`, "", now); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName for path-like name, got %v", err)
	}

	p, err := NewProject(" Scrum ", " main board ", now)
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	if p.Name != "Scrum" || p.Description != "main board" {
		t.Fatalf("unexpected project %#v", p)
	}
	if p.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", p.CreatedAt.Location())
	}
}

// TestNewWorkItemTypeNormalizesFields verifies behavior for the covered scenario.
func TestNewWorkItemTypeNormalizesFields(t *testing.T) {
	if _, err := NewWorkItemType("", "Bug", nil); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := NewWorkItemType("Scrum", "Bug", []FieldDefinition{{ReferenceName: " "}}); err != ErrInvalidField {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}

	wt, err := NewWorkItemType("CopyTarget", "Bug", []FieldDefinition{
		{ReferenceName: " System.Title ", Name: " Title "},
		{ReferenceName: "system.title"},
		{ReferenceName: FieldID, ReadOnly: true, Type: FieldTypeInteger},
	})
	if err != nil {
		t.Fatalf("NewWorkItemType() error = %v", err)
	}
	if len(wt.Fields) != 2 {
		t.Fatalf("expected duplicate field to collapse, got %#v", wt.Fields)
	}
	if wt.Fields[0].ReferenceName != FieldTitle || wt.Fields[0].Name != "Title" || wt.Fields[0].Type != FieldTypeString {
		t.Fatalf("unexpected title definition %#v", wt.Fields[0])
	}
	if !wt.HasField("SYSTEM.TITLE") {
		t.Fatal("expected case-insensitive HasField lookup")
	}
	if wt.HasField("Microsoft.VSTS.Common.Priority") {
		t.Fatal("expected missing field to report false")
	}
	if !wt.IsReadOnly(FieldID) {
		t.Fatal("expected System.Id to be read-only")
	}
}

// TestWorkItemTypeNewWorkItem verifies behavior for the covered scenario.
func TestWorkItemTypeNewWorkItem(t *testing.T) {
	wt, err := NewWorkItemType("CopyTarget", "Bug", []FieldDefinition{
		{ReferenceName: FieldTitle},
		{ReferenceName: FieldWorkItemType, ReadOnly: true},
		{ReferenceName: FieldTeamProject, ReadOnly: true},
	})
	if err != nil {
		t.Fatalf("NewWorkItemType() error = %v", err)
	}
	item := wt.NewWorkItem()
	if !item.IsNew() {
		t.Fatalf("expected unsaved item, got id %d", item.ID)
	}
	if item.Project != "CopyTarget" || item.Type != "Bug" {
		t.Fatalf("unexpected binding %#v", item)
	}
	if got := item.StringValue(FieldWorkItemType); got != "Bug" {
		t.Fatalf("expected type field Bug, got %q", got)
	}
	if got := item.StringValue(FieldTeamProject); got != "CopyTarget" {
		t.Fatalf("expected project field CopyTarget, got %q", got)
	}
	title, ok := item.Field(FieldTitle)
	if !ok || title.Value != nil || !title.Editable {
		t.Fatalf("unexpected title field %#v ok=%t", title, ok)
	}
}

// TestWorkItemSetValueAndClone verifies behavior for the covered scenario.
func TestWorkItemSetValueAndClone(t *testing.T) {
	item := WorkItem{ID: 42, Project: "Scrum", Type: "Bug"}
	if err := item.SetValue(" ", "x"); err != ErrInvalidField {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
	if err := item.SetValue(FieldTitle, "Crash on save"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if err := item.SetValue("system.title", "Crash on load"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if len(item.Fields) != 1 || item.StringValue(FieldTitle) != "Crash on load" {
		t.Fatalf("expected in-place update, got %#v", item.Fields)
	}

	cloned := item.Clone()
	cloned.Fields[0].Value = "changed"
	if item.StringValue(FieldTitle) != "Crash on load" {
		t.Fatal("expected clone to detach field slice")
	}
	if got := item.Values()[FieldTitle]; got != "Crash on load" {
		t.Fatalf("unexpected values map entry %v", got)
	}
}

// TestNotificationJSONDiscriminator verifies behavior for the covered scenario.
func TestNotificationJSONDiscriminator(t *testing.T) {
	in := Notification{
		ID:       "n-1",
		Category: CategoryNotification,
		Payload: WorkItemChangedEvent{
			PortfolioProject: "Scrum",
			ChangedFields: FieldSet{
				StringFields: []StringField{{ReferenceName: FieldState, OldValue: "Active", NewValue: "Removed"}},
			},
			CoreFields: FieldSet{
				IntegerFields: []IntegerField{{ReferenceName: FieldID, OldValue: 42, NewValue: 42}},
			},
		},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		t.Fatalf("Unmarshal(probe) error = %v", err)
	}
	if probe["type"] != string(EventWorkItemChanged) {
		t.Fatalf("expected type discriminator, got %v", probe["type"])
	}

	var out Notification
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	event, ok := out.WorkItemChanged()
	if !ok {
		t.Fatalf("expected work item changed payload, got %T", out.Payload)
	}
	id, ok := event.CoreFields.IntegerChange("system.id")
	if !ok || id.OldValue != 42 {
		t.Fatalf("unexpected id field %#v ok=%t", id, ok)
	}
	state, ok := event.ChangedFields.StringChange(FieldState)
	if !ok || state.NewValue != "Removed" {
		t.Fatalf("unexpected state field %#v ok=%t", state, ok)
	}
}

// TestNotificationJSONOtherEvent verifies behavior for the covered scenario.
func TestNotificationJSONOtherEvent(t *testing.T) {
	var n Notification
	if err := json.Unmarshal([]byte(`{"category":"Decision","type":"build_completed","payload":{"build":7}}`), &n); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if n.Category != CategoryDecision {
		t.Fatalf("expected normalized decision category, got %q", n.Category)
	}
	other, ok := n.Payload.(OtherEvent)
	if !ok || other.Type != "build_completed" || n.EventType() != "build_completed" {
		t.Fatalf("unexpected payload %#v", n.Payload)
	}
	if _, ok := n.WorkItemChanged(); ok {
		t.Fatal("expected other event not to expose work item payload")
	}

	if err := json.Unmarshal([]byte(`{"payload":{}}`), &n); !errors.Is(err, ErrMissingEventType) {
		t.Fatalf("expected ErrMissingEventType, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"type":"x","category":"sometimes"}`), &n); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if _, err := json.Marshal(Notification{}); !errors.Is(err, ErrMissingEventType) {
		t.Fatalf("expected marshal error for empty payload, got %v", err)
	}
}

// TestSubscriberPriorityParse verifies behavior for the covered scenario.
func TestSubscriberPriorityParse(t *testing.T) {
	cases := map[string]SubscriberPriority{"": PriorityNormal, "LOW": PriorityLow, " high ": PriorityHigh}
	for raw, want := range cases {
		got, err := ParseSubscriberPriority(raw)
		if err != nil {
			t.Fatalf("ParseSubscriberPriority(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseSubscriberPriority(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseSubscriberPriority("urgent"); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
	if PriorityNormal.String() != "normal" {
		t.Fatalf("unexpected priority name %q", PriorityNormal.String())
	}
	if r := Permitted(); r.Status != StatusActionPermitted || r.StatusCode != 0 || r.StatusMessage != "" || r.Properties != nil {
		t.Fatalf("unexpected permitted result %#v", r)
	}
}

// TestNewCopyActivityValidation verifies behavior for the covered scenario.
func TestNewCopyActivityValidation(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := NewCopyActivity("", CopyOutcomeCopied, now); err != ErrInvalidID {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := NewCopyActivity("a1", CopyOutcome("maybe"), now); err != ErrInvalidField {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
	a, err := NewCopyActivity(" a1 ", CopyOutcomeSkipped, now)
	if err != nil {
		t.Fatalf("NewCopyActivity() error = %v", err)
	}
	if a.ID != "a1" || a.Outcome != CopyOutcomeSkipped || !a.OccurredAt.Equal(now) {
		t.Fatalf("unexpected activity %#v", a)
	}
}
