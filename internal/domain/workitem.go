package domain

import (
	"encoding/json"
	"math"
	"slices"
	"strings"
)

// Well-known field reference names.
const (
	FieldID            = "System.Id"
	FieldRev           = "System.Rev"
	FieldTitle         = "System.Title"
	FieldState         = "System.State"
	FieldWorkItemType  = "System.WorkItemType"
	FieldTeamProject   = "System.TeamProject"
	FieldAreaID        = "System.AreaId"
	FieldAreaPath      = "System.AreaPath"
	FieldIterationID   = "System.IterationId"
	FieldIterationPath = "System.IterationPath"
	FieldChangedDate   = "System.ChangedDate"
	FieldChangedBy     = "System.ChangedBy"
)

// Field is one named value on a work item.
type Field struct {
	ReferenceName string `json:"reference_name"`
	Name          string `json:"name,omitempty"`
	Value         any    `json:"value"`
	Editable      bool   `json:"editable"`
}

// WorkItem is a tracked unit of work owned by exactly one project.
// ID is zero until the item has been saved by a store.
type WorkItem struct {
	ID      int     `json:"id"`
	Rev     int     `json:"rev,omitempty"`
	Project string  `json:"project"`
	Type    string  `json:"type"`
	Fields  []Field `json:"fields"`
}

// IsNew reports whether the item has not been persisted yet.
func (w WorkItem) IsNew() bool {
	return w.ID == 0
}

// Field returns the field with the given reference name.
func (w WorkItem) Field(referenceName string) (Field, bool) {
	idx := w.fieldIndex(referenceName)
	if idx < 0 {
		return Field{}, false
	}
	return w.Fields[idx], true
}

// Value returns the value stored under one reference name.
func (w WorkItem) Value(referenceName string) (any, bool) {
	f, ok := w.Field(referenceName)
	if !ok {
		return nil, false
	}
	return f.Value, true
}

// StringValue returns a field value when it holds a string.
func (w WorkItem) StringValue(referenceName string) string {
	v, ok := w.Value(referenceName)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SetValue assigns a value to an existing field or appends an editable one.
func (w *WorkItem) SetValue(referenceName string, value any) error {
	referenceName = strings.TrimSpace(referenceName)
	if referenceName == "" {
		return ErrInvalidField
	}
	if idx := w.fieldIndex(referenceName); idx >= 0 {
		w.Fields[idx].Value = value
		return nil
	}
	w.Fields = append(w.Fields, Field{
		ReferenceName: referenceName,
		Value:         value,
		Editable:      true,
	})
	return nil
}

// Values flattens the fields into a reference-name keyed map.
func (w WorkItem) Values() map[string]any {
	out := make(map[string]any, len(w.Fields))
	for _, f := range w.Fields {
		out[f.ReferenceName] = f.Value
	}
	return out
}

// Clone returns a deep copy of the item's field slice.
func (w WorkItem) Clone() WorkItem {
	w.Fields = slices.Clone(w.Fields)
	return w
}

// fieldIndex finds one field position by case-insensitive reference name.
func (w WorkItem) fieldIndex(referenceName string) int {
	for i, f := range w.Fields {
		if strings.EqualFold(f.ReferenceName, referenceName) {
			return i
		}
	}
	return -1
}

// NormalizeFieldValue converts decoded JSON numbers back into ints when they are integral.
func NormalizeFieldValue(v any) any {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int(n)
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
