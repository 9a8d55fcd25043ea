package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
)

const fieldPriority = "Microsoft.VSTS.Common.Priority"

// fakeTracker is a minimal in-memory work item tracking API.
type fakeTracker struct {
	mu        sync.Mutex
	token     string
	items     map[int]map[string]any
	nextID    int
	created   []map[string]any
	patches   [][]PatchOperation
	fieldHits int
	throttle  int
}

func newFakeTracker(t *testing.T) (*fakeTracker, *httptest.Server) {
	t.Helper()
	ft := &fakeTracker{
		token: "pat-123",
		items: map[int]map[string]any{
			42: {
				domain.FieldID:           42,
				domain.FieldTeamProject:  "Scrum",
				domain.FieldWorkItemType: "Bug",
				domain.FieldTitle:        "Crash on save",
				fieldPriority:            2,
				domain.FieldState:        "Removed",
				domain.FieldAreaPath:     `Scrum\Team1`,
			},
		},
		nextID: 100,
	}
	srv := httptest.NewServer(http.HandlerFunc(ft.serveHTTP))
	t.Cleanup(srv.Close)
	return ft, srv
}

func (f *fakeTracker) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+f.token))
	if r.Header.Get("Authorization") != want {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("api-version") == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"api-version is required"}`)
		return
	}
	if f.throttle > 0 {
		f.throttle--
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/DefaultCollection/")
	switch {
	case r.Method == http.MethodGet && path == "Scrum/_apis/wit/fields", r.Method == http.MethodGet && path == "CopyTarget/_apis/wit/fields":
		f.fieldHits++
		writeJSON(w, fieldListResponse{Value: []fieldResponse{
			{ReferenceName: domain.FieldID, Name: "ID", Type: "integer", ReadOnly: true},
			{ReferenceName: domain.FieldTeamProject, Name: "Team Project", ReadOnly: true},
			{ReferenceName: domain.FieldWorkItemType, Name: "Work Item Type", ReadOnly: true},
			{ReferenceName: domain.FieldTitle, Name: "Title", Type: "string"},
			{ReferenceName: fieldPriority, Name: "Priority", Type: "integer"},
			{ReferenceName: domain.FieldState, Name: "State", Type: "string"},
			{ReferenceName: domain.FieldAreaPath, Name: "Area Path", Type: "treePath"},
		}})
	case r.Method == http.MethodGet && path == "CopyTarget/_apis/wit/workitemtypes":
		writeJSON(w, workItemTypeListResponse{Value: []workItemTypeResponse{{
			Name: "Bug",
			Fields: []typeFieldResponse{
				{ReferenceName: domain.FieldID},
				{ReferenceName: domain.FieldTeamProject},
				{ReferenceName: domain.FieldWorkItemType},
				{ReferenceName: domain.FieldTitle},
				{ReferenceName: fieldPriority},
				{ReferenceName: domain.FieldState},
			},
		}}})
	case r.Method == http.MethodGet && path == "_apis/wit/workitems/42":
		writeJSON(w, workItemResponse{ID: 42, Rev: 3, Fields: rawFields(f.items[42])})
	case r.Method == http.MethodPost && path == "CopyTarget/_apis/wit/workitems/$Bug":
		if r.Header.Get("Content-Type") != contentTypeJSONPatch {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		var ops []PatchOperation
		if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.patches = append(f.patches, ops)
		id := f.nextID
		f.nextID++
		fields := map[string]any{
			domain.FieldID:           id,
			domain.FieldTeamProject:  "CopyTarget",
			domain.FieldWorkItemType: "Bug",
		}
		for _, op := range ops {
			fields[strings.TrimPrefix(op.Path, "/fields/")] = op.Value
		}
		f.items[id] = fields
		f.created = append(f.created, fields)
		writeJSON(w, workItemResponse{ID: id, Rev: 1, Fields: rawFields(fields)})
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"TF401232: Work item does not exist.","typeKey":"WorkItemUnauthorizedAccessException"}`)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	_ = json.NewEncoder(w).Encode(v)
}

func rawFields(values map[string]any) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, _ := json.Marshal(v)
		out[k] = raw
	}
	return out
}

// TestStoreGetWorkItem verifies behavior for the covered scenario.
func TestStoreGetWorkItem(t *testing.T) {
	ft, srv := newFakeTracker(t)
	store := NewStore(NewClient(srv.URL+"/DefaultCollection/", "pat-123"))

	item, err := store.GetWorkItem(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}
	if item.ID != 42 || item.Rev != 3 || item.Project != "Scrum" || item.Type != "Bug" {
		t.Fatalf("unexpected item header %#v", item)
	}
	title, ok := item.Field(domain.FieldTitle)
	if !ok || title.Value != "Crash on save" || !title.Editable || title.Name != "Title" {
		t.Fatalf("unexpected title field %#v", title)
	}
	if v, _ := item.Value(fieldPriority); v != 2 {
		t.Fatalf("expected integer priority, got %#v", v)
	}
	if id, _ := item.Field(domain.FieldID); id.Editable {
		t.Fatalf("expected read-only id, got %#v", id)
	}

	if _, err := store.GetWorkItem(context.Background(), 42); err != nil {
		t.Fatalf("GetWorkItem(second) error = %v", err)
	}
	if ft.fieldHits != 1 {
		t.Fatalf("expected field metadata to be cached, got %d fetches", ft.fieldHits)
	}

	if _, err := store.GetWorkItem(context.Background(), 7); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetWorkItem(context.Background(), 0); !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

// TestStoreListWorkItemTypes verifies behavior for the covered scenario.
func TestStoreListWorkItemTypes(t *testing.T) {
	_, srv := newFakeTracker(t)
	store := NewStore(NewClient(srv.URL+"/DefaultCollection", "pat-123"))

	types, err := store.ListWorkItemTypes(context.Background(), "CopyTarget")
	if err != nil {
		t.Fatalf("ListWorkItemTypes() error = %v", err)
	}
	if len(types) != 1 || types[0].Name != "Bug" || types[0].Project != "CopyTarget" {
		t.Fatalf("unexpected types %#v", types)
	}
	if !types[0].IsReadOnly(domain.FieldID) || types[0].IsReadOnly(domain.FieldTitle) {
		t.Fatalf("unexpected read-only flags %#v", types[0].Fields)
	}
	if def, _ := types[0].Definition(fieldPriority); def.Type != domain.FieldTypeInteger || def.Name != "Priority" {
		t.Fatalf("unexpected priority definition %#v", def)
	}
	if types[0].HasField(domain.FieldAreaPath) {
		t.Fatal("expected area path to be absent from the target type")
	}

	if _, err := store.ListWorkItemTypes(context.Background(), "Nowhere"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
}

// TestStoreBacksWorkItemCopier verifies behavior for the covered scenario.
func TestStoreBacksWorkItemCopier(t *testing.T) {
	ft, srv := newFakeTracker(t)
	store := NewStore(NewClient(srv.URL+"/DefaultCollection", "pat-123"))
	copier := app.NewWorkItemCopier(app.DefaultCopyPolicy(), staticLocator{store: store}, app.CopierConfig{})

	n := domain.Notification{ID: "n-1", Payload: domain.WorkItemChangedEvent{
		PortfolioProject: "Scrum",
		ChangedFields:    domain.FieldSet{StringFields: []domain.StringField{{ReferenceName: domain.FieldState, OldValue: "Active", NewValue: "Removed"}}},
		CoreFields:       domain.FieldSet{IntegerFields: []domain.IntegerField{{ReferenceName: domain.FieldID, OldValue: 42, NewValue: 42}}},
	}}
	report, err := copier.Copy(context.Background(), domain.RequestContext{ServiceHostName: "DefaultCollection"}, domain.CategoryNotification, n)
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if report.Outcome != domain.CopyOutcomeCopied || report.TargetID != 100 {
		t.Fatalf("unexpected report %#v", report)
	}
	if len(ft.patches) != 1 {
		t.Fatalf("expected one create call, got %d", len(ft.patches))
	}
	want := []PatchOperation{
		{Op: "add", Path: "/fields/" + domain.FieldTitle, Value: "Crash on save"},
		{Op: "add", Path: "/fields/" + fieldPriority, Value: float64(2)},
	}
	if diff := cmp.Diff(want, ft.patches[0]); diff != "" {
		t.Fatalf("patch mismatch (-want +got):\n%s", diff)
	}
}

// TestClientRetriesRateLimitedRequests verifies behavior for the covered scenario.
func TestClientRetriesRateLimitedRequests(t *testing.T) {
	ft, srv := newFakeTracker(t)
	ft.throttle = 2
	store := NewStore(NewClient(srv.URL+"/DefaultCollection", "pat-123", WithMaxRetries(3)))
	if _, err := store.GetWorkItem(context.Background(), 42); err != nil {
		t.Fatalf("GetWorkItem() error = %v", err)
	}

	ft.throttle = 5
	limited := NewStore(NewClient(srv.URL+"/DefaultCollection", "pat-123", WithMaxRetries(1)))
	_, err := limited.GetWorkItem(context.Background(), 42)
	if err == nil || !strings.Contains(err.Error(), "max retries (1) exceeded") {
		t.Fatalf("expected retry exhaustion, got %v", err)
	}
}

// TestClientDoesNotRetryServerErrors verifies behavior for the covered scenario.
func TestClientDoesNotRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"message":"collection offline"}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL+"/DefaultCollection", "pat-123", WithMaxRetries(3))
	ops := []PatchOperation{{Op: "add", Path: "/fields/" + domain.FieldTitle, Value: "Crash on save"}}
	err := client.PostPatch(context.Background(), "CopyTarget/_apis/wit/workitems/$Bug", nil, ops, nil)
	if err == nil || !strings.Contains(err.Error(), "unexpected status 503") || !strings.Contains(err.Error(), "collection offline") {
		t.Fatalf("PostPatch() error = %v, want 503 status error", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt for a server error, got %d", got)
	}
}

// TestClientRejectsBadToken verifies behavior for the covered scenario.
func TestClientRejectsBadToken(t *testing.T) {
	_, srv := newFakeTracker(t)
	store := NewStore(NewClient(srv.URL+"/DefaultCollection", "wrong"))
	if _, err := store.GetWorkItem(context.Background(), 42); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// TestPatchOperationsSkipsReadOnlyAndEmpty verifies behavior for the covered scenario.
func TestPatchOperationsSkipsReadOnlyAndEmpty(t *testing.T) {
	item := domain.WorkItem{Fields: []domain.Field{
		{ReferenceName: domain.FieldTeamProject, Value: "CopyTarget"},
		{ReferenceName: domain.FieldTitle, Value: "x", Editable: true},
		{ReferenceName: domain.FieldState, Editable: true},
	}}
	got := patchOperations(item)
	want := []PatchOperation{{Op: "add", Path: "/fields/System.Title", Value: "x"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("patch mismatch (-want +got):\n%s", diff)
	}
}

// staticLocator always returns the same store.
type staticLocator struct {
	store app.WorkItemStore
}

func (l staticLocator) ResolveConnectionAddress(_ context.Context, rc domain.RequestContext) (string, error) {
	return "test/" + rc.ServiceHostName, nil
}

func (l staticLocator) WorkItemStore(context.Context, string) (app.WorkItemStore, error) {
	return l.store, nil
}
