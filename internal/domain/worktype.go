package domain

import (
	"strings"
)

// FieldType classifies the value kind a field definition accepts.
type FieldType string

// FieldType values.
const (
	FieldTypeString   FieldType = "string"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeDouble   FieldType = "double"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeHTML     FieldType = "html"
	FieldTypePlain    FieldType = "plaintext"
	FieldTypeTreePath FieldType = "treepath"
	FieldTypeIdentity FieldType = "identity"
	FieldTypeBoolean  FieldType = "boolean"
)

// FieldDefinition describes one field in a work item type's schema.
type FieldDefinition struct {
	ReferenceName string    `json:"reference_name"`
	Name          string    `json:"name,omitempty"`
	Type          FieldType `json:"type,omitempty"`
	ReadOnly      bool      `json:"read_only,omitempty"`
}

// WorkItemType is a project-scoped factory for new work items.
type WorkItemType struct {
	Project string            `json:"project"`
	Name    string            `json:"name"`
	Fields  []FieldDefinition `json:"fields"`
}

// NewWorkItemType validates and constructs one type definition.
func NewWorkItemType(project, name string, fields []FieldDefinition) (WorkItemType, error) {
	project = strings.TrimSpace(project)
	name = strings.TrimSpace(name)
	if project == "" || name == "" {
		return WorkItemType{}, ErrInvalidName
	}
	out := make([]FieldDefinition, 0, len(fields))
	seen := map[string]struct{}{}
	for _, def := range fields {
		def.ReferenceName = strings.TrimSpace(def.ReferenceName)
		if def.ReferenceName == "" {
			return WorkItemType{}, ErrInvalidField
		}
		key := strings.ToLower(def.ReferenceName)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		def.Name = strings.TrimSpace(def.Name)
		if def.Type == "" {
			def.Type = FieldTypeString
		}
		out = append(out, def)
	}
	return WorkItemType{Project: project, Name: name, Fields: out}, nil
}

// NewWorkItem returns an unsaved item bound to this type and its project.
// Schema fields start empty; the type and project core fields are pre-populated.
func (t WorkItemType) NewWorkItem() WorkItem {
	item := WorkItem{
		Project: t.Project,
		Type:    t.Name,
		Fields:  make([]Field, 0, len(t.Fields)),
	}
	for _, def := range t.Fields {
		field := Field{
			ReferenceName: def.ReferenceName,
			Name:          def.Name,
			Editable:      !def.ReadOnly,
		}
		switch {
		case strings.EqualFold(def.ReferenceName, FieldWorkItemType):
			field.Value = t.Name
		case strings.EqualFold(def.ReferenceName, FieldTeamProject):
			field.Value = t.Project
		}
		item.Fields = append(item.Fields, field)
	}
	return item
}

// HasField reports whether the schema defines the reference name.
func (t WorkItemType) HasField(referenceName string) bool {
	_, ok := t.Definition(referenceName)
	return ok
}

// Definition returns one schema entry by reference name.
func (t WorkItemType) Definition(referenceName string) (FieldDefinition, bool) {
	for _, def := range t.Fields {
		if strings.EqualFold(def.ReferenceName, referenceName) {
			return def, true
		}
	}
	return FieldDefinition{}, false
}

// IsReadOnly reports whether the schema marks the field as read-only.
func (t WorkItemType) IsReadOnly(referenceName string) bool {
	def, ok := t.Definition(referenceName)
	return ok && def.ReadOnly
}
