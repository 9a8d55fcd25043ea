package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hylla/witcopier/internal/domain"
)

// workItemHookPrefix marks service-hook event types that describe work item changes.
const workItemHookPrefix = "workitem."

// ServiceHookEvent is the envelope posted by a service-hook subscription.
type ServiceHookEvent struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	PublisherID string          `json:"publisherId"`
	Resource    json.RawMessage `json:"resource"`
}

// hookResource covers both resource shapes: updated events carry a revision and
// changed-field pairs, other work item events carry the item itself.
type hookResource struct {
	ID         int                        `json:"id"`
	WorkItemID int                        `json:"workItemId"`
	Rev        int                        `json:"rev"`
	RevisedBy  hookIdentity               `json:"revisedBy"`
	Fields     map[string]json.RawMessage `json:"fields"`
	Revision   *hookRevision              `json:"revision"`
}

type hookRevision struct {
	ID     int                        `json:"id"`
	Rev    int                        `json:"rev"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type hookIdentity struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

type hookChange struct {
	OldValue any `json:"oldValue"`
	NewValue any `json:"newValue"`
}

// coreFieldRefs are copied into the core field set when the revision carries them.
var coreFieldRefs = []string{
	domain.FieldID,
	domain.FieldRev,
	domain.FieldAreaID,
	domain.FieldIterationID,
	domain.FieldWorkItemType,
	domain.FieldState,
	domain.FieldAreaPath,
	domain.FieldIterationPath,
	domain.FieldTeamProject,
	domain.FieldChangedBy,
	domain.FieldChangedDate,
}

// TranslateServiceHook converts one service-hook body into a notification.
// Work item events become WorkItemChangedEvent; anything else becomes OtherEvent.
func TranslateServiceHook(body []byte) (domain.Notification, error) {
	var evt ServiceHookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return domain.Notification{}, fmt.Errorf("decode service hook: %w", errors.Join(ErrInvalidRequest, err))
	}
	evt.EventType = strings.TrimSpace(evt.EventType)
	if evt.EventType == "" {
		return domain.Notification{}, fmt.Errorf("service hook eventType is required: %w", ErrInvalidRequest)
	}
	n := domain.Notification{ID: strings.TrimSpace(evt.ID), Category: domain.CategoryNotification}
	if !strings.HasPrefix(strings.ToLower(evt.EventType), workItemHookPrefix) {
		n.Payload = domain.OtherEvent{Type: evt.EventType, Body: append(json.RawMessage(nil), evt.Resource...)}
		return n, nil
	}

	var res hookResource
	if len(bytes.TrimSpace(evt.Resource)) > 0 {
		if err := json.Unmarshal(evt.Resource, &res); err != nil {
			return domain.Notification{}, fmt.Errorf("decode service hook resource: %w", errors.Join(ErrInvalidRequest, err))
		}
	}
	payload, err := workItemEvent(evt.EventType, res)
	if err != nil {
		return domain.Notification{}, err
	}
	n.Payload = payload
	return n, nil
}

// workItemEvent builds the change event from one work item resource.
func workItemEvent(eventType string, res hookResource) (domain.WorkItemChangedEvent, error) {
	event := domain.WorkItemChangedEvent{ChangeType: changeType(eventType), ChangedBy: res.RevisedBy.DisplayName}

	// Updated events put the item under revision and the pairs under fields.
	current := res.Fields
	id := res.ID
	rev := res.Rev
	if res.Revision != nil {
		current = res.Revision.Fields
		id = res.WorkItemID
		if id == 0 {
			id = res.Revision.ID
		}
		rev = res.Revision.Rev
		changed, err := changedFields(res.Fields)
		if err != nil {
			return domain.WorkItemChangedEvent{}, err
		}
		event.ChangedFields = changed
	}

	values, err := decodeValues(current)
	if err != nil {
		return domain.WorkItemChangedEvent{}, err
	}
	if v, ok := values[domain.FieldID].(int); ok && id == 0 {
		id = v
	}
	event.WorkItemID = id
	event.PortfolioProject, _ = values[domain.FieldTeamProject].(string)
	if event.ChangedBy == "" {
		event.ChangedBy, _ = values[domain.FieldChangedBy].(string)
	}
	if id > 0 {
		values[domain.FieldID] = id
	}
	if rev > 0 {
		values[domain.FieldRev] = rev
	}
	event.CoreFields = coreFields(values)
	return event, nil
}

// changedFields converts oldValue/newValue pairs into typed field changes.
func changedFields(raw map[string]json.RawMessage) (domain.FieldSet, error) {
	var set domain.FieldSet
	for _, ref := range sortedKeys(raw) {
		var change hookChange
		dec := json.NewDecoder(bytes.NewReader(raw[ref]))
		dec.UseNumber()
		if err := dec.Decode(&change); err != nil {
			return domain.FieldSet{}, fmt.Errorf("decode changed field %q: %w", ref, errors.Join(ErrInvalidRequest, err))
		}
		oldValue := domain.NormalizeFieldValue(change.OldValue)
		newValue := domain.NormalizeFieldValue(change.NewValue)
		oldInt, oldIsInt := intOrAbsent(oldValue)
		newInt, newIsInt := intOrAbsent(newValue)
		if oldIsInt && newIsInt && (oldValue != nil || newValue != nil) {
			set.IntegerFields = append(set.IntegerFields, domain.IntegerField{ReferenceName: ref, OldValue: oldInt, NewValue: newInt})
			continue
		}
		set.StringFields = append(set.StringFields, domain.StringField{ReferenceName: ref, OldValue: stringValue(oldValue), NewValue: stringValue(newValue)})
	}
	return set, nil
}

// coreFields projects the current values onto the core field set. Core values
// did not change in this revision, so old and new are equal.
func coreFields(values map[string]any) domain.FieldSet {
	var set domain.FieldSet
	for _, ref := range coreFieldRefs {
		v, ok := values[ref]
		if !ok || v == nil {
			continue
		}
		if i, isInt := v.(int); isInt {
			set.IntegerFields = append(set.IntegerFields, domain.IntegerField{ReferenceName: ref, OldValue: i, NewValue: i})
			continue
		}
		s := stringValue(v)
		set.StringFields = append(set.StringFields, domain.StringField{ReferenceName: ref, OldValue: s, NewValue: s})
	}
	return set
}

func decodeValues(raw map[string]json.RawMessage) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for ref, msg := range raw {
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", ref, errors.Join(ErrInvalidRequest, err))
		}
		out[ref] = domain.NormalizeFieldValue(v)
	}
	return out, nil
}

// intOrAbsent reports an int value; nil counts as an absent int.
func intOrAbsent(v any) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case map[string]any:
		// Identity fields arrive as objects.
		if name, ok := s["displayName"].(string); ok {
			return name
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return strings.Trim(string(raw), `"`)
}

// changeType maps the hook event suffix onto the change type vocabulary.
func changeType(eventType string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.ToLower(eventType), workItemHookPrefix)) {
	case "created":
		return "new"
	case "deleted":
		return "delete"
	case "restored":
		return "restore"
	default:
		return "change"
	}
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
