package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
)

// Store is a work item store backed by the remote work item tracking API.
type Store struct {
	client *Client

	mu     sync.Mutex
	fields map[string]map[string]fieldResponse
}

var _ app.WorkItemStore = (*Store)(nil)

// NewStore wraps a client.
func NewStore(client *Client) *Store {
	return &Store{
		client: client,
		fields: map[string]map[string]fieldResponse{},
	}
}

// Client returns the underlying API client.
func (s *Store) Client() *Client {
	return s.client
}

// GetWorkItem fetches one item with all of its fields.
func (s *Store) GetWorkItem(ctx context.Context, id int) (domain.WorkItem, error) {
	if id <= 0 {
		return domain.WorkItem{}, domain.ErrInvalidID
	}
	var resp workItemResponse
	path := "_apis/wit/workitems/" + strconv.Itoa(id)
	if err := s.client.Get(ctx, path, url.Values{"$expand": {"fields"}}, &resp); err != nil {
		return domain.WorkItem{}, err
	}
	return s.toWorkItem(ctx, resp)
}

// ListWorkItemTypes lists the types of a project with per-field read-only flags.
func (s *Store) ListWorkItemTypes(ctx context.Context, project string) ([]domain.WorkItemType, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, domain.ErrInvalidName
	}
	var resp workItemTypeListResponse
	if err := s.client.Get(ctx, url.PathEscape(project)+"/_apis/wit/workitemtypes", nil, &resp); err != nil {
		return nil, err
	}
	defs, err := s.projectFields(ctx, project)
	if err != nil {
		return nil, err
	}

	out := make([]domain.WorkItemType, 0, len(resp.Value))
	for _, wt := range resp.Value {
		fields := make([]domain.FieldDefinition, 0, len(wt.Fields))
		for _, f := range wt.Fields {
			def := domain.FieldDefinition{ReferenceName: f.ReferenceName, Name: f.Name}
			if meta, ok := defs[strings.ToLower(f.ReferenceName)]; ok {
				def.Type = fieldType(meta.Type)
				def.ReadOnly = meta.ReadOnly
				if def.Name == "" {
					def.Name = meta.Name
				}
			}
			fields = append(fields, def)
		}
		typ, err := domain.NewWorkItemType(project, wt.Name, fields)
		if err != nil {
			return nil, fmt.Errorf("work item type %q in %q: %w", wt.Name, project, err)
		}
		out = append(out, typ)
	}
	return out, nil
}

// SaveWorkItem creates a new item, or updates an existing one, sending only
// editable fields with values.
func (s *Store) SaveWorkItem(ctx context.Context, item domain.WorkItem) (domain.WorkItem, error) {
	ops := patchOperations(item)
	var resp workItemResponse
	if item.IsNew() {
		if strings.TrimSpace(item.Project) == "" || strings.TrimSpace(item.Type) == "" {
			return domain.WorkItem{}, fmt.Errorf("new work item needs a project and type: %w", domain.ErrInvalidName)
		}
		path := url.PathEscape(item.Project) + "/_apis/wit/workitems/$" + url.PathEscape(item.Type)
		if err := s.client.PostPatch(ctx, path, nil, ops, &resp); err != nil {
			return domain.WorkItem{}, err
		}
	} else {
		path := "_apis/wit/workitems/" + strconv.Itoa(item.ID)
		if err := s.client.Patch(ctx, path, nil, ops, &resp); err != nil {
			return domain.WorkItem{}, err
		}
	}
	saved, err := s.toWorkItem(ctx, resp)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if saved.Project == "" {
		saved.Project = item.Project
	}
	if saved.Type == "" {
		saved.Type = item.Type
	}
	return saved, nil
}

// patchOperations builds "add" operations for editable fields that carry a value.
func patchOperations(item domain.WorkItem) []PatchOperation {
	ops := make([]PatchOperation, 0, len(item.Fields))
	for _, f := range item.Fields {
		if !f.Editable || f.Value == nil {
			continue
		}
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/" + f.ReferenceName, Value: f.Value})
	}
	return ops
}

// projectFields returns the field metadata of a project, fetched once per store.
func (s *Store) projectFields(ctx context.Context, project string) (map[string]fieldResponse, error) {
	key := strings.ToLower(project)
	s.mu.Lock()
	cached, ok := s.fields[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	var resp fieldListResponse
	if err := s.client.Get(ctx, url.PathEscape(project)+"/_apis/wit/fields", nil, &resp); err != nil {
		return nil, fmt.Errorf("list fields for %q: %w", project, err)
	}
	defs := make(map[string]fieldResponse, len(resp.Value))
	for _, f := range resp.Value {
		defs[strings.ToLower(f.ReferenceName)] = f
	}

	s.mu.Lock()
	s.fields[key] = defs
	s.mu.Unlock()
	return defs, nil
}

// toWorkItem converts a response into a domain item. Fields unknown to the
// project metadata are treated as read-only.
func (s *Store) toWorkItem(ctx context.Context, resp workItemResponse) (domain.WorkItem, error) {
	item := domain.WorkItem{ID: resp.ID, Rev: resp.Rev}
	values := make(map[string]any, len(resp.Fields))
	for ref, raw := range resp.Fields {
		v, err := decodeValue(raw)
		if err != nil {
			return domain.WorkItem{}, fmt.Errorf("decode field %q: %w", ref, err)
		}
		values[ref] = v
	}
	item.Project, _ = values[domain.FieldTeamProject].(string)
	item.Type, _ = values[domain.FieldWorkItemType].(string)

	var defs map[string]fieldResponse
	if item.Project != "" {
		var err error
		defs, err = s.projectFields(ctx, item.Project)
		if err != nil {
			return domain.WorkItem{}, err
		}
	}

	refs := make([]string, 0, len(values))
	for ref := range values {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	item.Fields = make([]domain.Field, 0, len(refs))
	for _, ref := range refs {
		f := domain.Field{ReferenceName: ref, Value: values[ref]}
		if meta, ok := defs[strings.ToLower(ref)]; ok {
			f.Name = meta.Name
			f.Editable = !meta.ReadOnly
		}
		item.Fields = append(item.Fields, f)
	}
	return item, nil
}

// decodeValue decodes a field value keeping integral numbers as ints.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return domain.NormalizeFieldValue(v), nil
}

// fieldType maps API field types onto domain field types.
func fieldType(raw string) domain.FieldType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "integer":
		return domain.FieldTypeInteger
	case "double":
		return domain.FieldTypeDouble
	case "datetime":
		return domain.FieldTypeDateTime
	case "html":
		return domain.FieldTypeHTML
	case "plaintext":
		return domain.FieldTypePlain
	case "treepath":
		return domain.FieldTypeTreePath
	case "identity":
		return domain.FieldTypeIdentity
	case "boolean":
		return domain.FieldTypeBoolean
	default:
		return domain.FieldTypeString
	}
}
