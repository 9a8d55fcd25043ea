package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/witcopier/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "witcopier.snapshot.v1"

// Snapshot represents snapshot data used by this package.
type Snapshot struct {
	Version       string                 `json:"version"`
	ExportedAt    time.Time              `json:"exported_at"`
	Projects      []SnapshotProject      `json:"projects"`
	WorkItemTypes []SnapshotWorkItemType `json:"work_item_types"`
	WorkItems     []SnapshotWorkItem     `json:"work_items"`
}

// SnapshotProject represents snapshot project data used by this package.
type SnapshotProject struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SnapshotWorkItemType represents snapshot work item type data used by this package.
type SnapshotWorkItemType struct {
	Project string                   `json:"project"`
	Name    string                   `json:"name"`
	Fields  []domain.FieldDefinition `json:"fields"`
}

// SnapshotWorkItem represents snapshot work item data used by this package.
type SnapshotWorkItem struct {
	ID      int            `json:"id"`
	Rev     int            `json:"rev,omitempty"`
	Project string         `json:"project"`
	Type    string         `json:"type"`
	Fields  []domain.Field `json:"fields"`
}

// ExportSnapshot handles export snapshot.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Version:       SnapshotVersion,
		ExportedAt:    s.clock().UTC(),
		Projects:      make([]SnapshotProject, 0, len(projects)),
		WorkItemTypes: make([]SnapshotWorkItemType, 0),
		WorkItems:     make([]SnapshotWorkItem, 0),
	}
	for _, project := range projects {
		snap.Projects = append(snap.Projects, SnapshotProject{
			Name:        project.Name,
			Description: project.Description,
			CreatedAt:   project.CreatedAt.UTC(),
			UpdatedAt:   project.UpdatedAt.UTC(),
		})

		types, listErr := s.repo.ListWorkItemTypes(ctx, project.Name)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		for _, wt := range types {
			snap.WorkItemTypes = append(snap.WorkItemTypes, SnapshotWorkItemType{
				Project: wt.Project,
				Name:    wt.Name,
				Fields:  append([]domain.FieldDefinition(nil), wt.Fields...),
			})
		}

		items, listErr := s.repo.ListWorkItems(ctx, project.Name)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		for _, item := range items {
			snap.WorkItems = append(snap.WorkItems, SnapshotWorkItem{
				ID:      item.ID,
				Rev:     item.Rev,
				Project: item.Project,
				Type:    item.Type,
				Fields:  append([]domain.Field(nil), item.Fields...),
			})
		}
	}

	snap.sort()
	return snap, nil
}

// ImportSnapshot handles import snapshot.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	for _, p := range snap.Projects {
		project := domain.Project{
			Name:        strings.TrimSpace(p.Name),
			Description: strings.TrimSpace(p.Description),
			CreatedAt:   p.CreatedAt.UTC(),
			UpdatedAt:   p.UpdatedAt.UTC(),
		}
		if err := s.repo.UpsertProject(ctx, project); err != nil {
			return fmt.Errorf("import project %q: %w", project.Name, err)
		}
	}
	for _, t := range snap.WorkItemTypes {
		wt, err := domain.NewWorkItemType(t.Project, t.Name, t.Fields)
		if err != nil {
			return fmt.Errorf("import work item type %q: %w", t.Name, err)
		}
		if err := s.repo.UpsertWorkItemType(ctx, wt); err != nil {
			return fmt.Errorf("import work item type %q: %w", t.Name, err)
		}
	}
	for _, w := range snap.WorkItems {
		item := domain.WorkItem{
			ID:      w.ID,
			Rev:     w.Rev,
			Project: strings.TrimSpace(w.Project),
			Type:    strings.TrimSpace(w.Type),
			Fields:  make([]domain.Field, 0, len(w.Fields)),
		}
		for _, f := range w.Fields {
			f.Value = domain.NormalizeFieldValue(f.Value)
			item.Fields = append(item.Fields, f)
		}
		if err := s.repo.PutWorkItem(ctx, item); err != nil {
			return fmt.Errorf("import work item %d: %w", item.ID, err)
		}
	}
	return nil
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}

	projects := map[string]struct{}{}
	for i, p := range s.Projects {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("projects[%d].name is required", i)
		}
		if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
			return fmt.Errorf("projects[%d] timestamps are required", i)
		}
		key := strings.ToLower(name)
		if _, exists := projects[key]; exists {
			return fmt.Errorf("duplicate project name: %q", name)
		}
		projects[key] = struct{}{}
	}

	types := map[string]struct{}{}
	for i, t := range s.WorkItemTypes {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("work_item_types[%d].name is required", i)
		}
		if _, ok := projects[strings.ToLower(strings.TrimSpace(t.Project))]; !ok {
			return fmt.Errorf("work_item_types[%d] references unknown project %q", i, t.Project)
		}
		key := typeKey(t.Project, t.Name)
		if _, exists := types[key]; exists {
			return fmt.Errorf("duplicate work item type: %q in %q", t.Name, t.Project)
		}
		types[key] = struct{}{}
	}

	ids := map[int]struct{}{}
	for i, w := range s.WorkItems {
		if w.ID <= 0 {
			return fmt.Errorf("work_items[%d].id must be > 0", i)
		}
		if _, ok := types[typeKey(w.Project, w.Type)]; !ok {
			return fmt.Errorf("work_items[%d] references unknown type %q in %q", i, w.Type, w.Project)
		}
		if _, exists := ids[w.ID]; exists {
			return fmt.Errorf("duplicate work item id: %d", w.ID)
		}
		for j, f := range w.Fields {
			if strings.TrimSpace(f.ReferenceName) == "" {
				return fmt.Errorf("work_items[%d].fields[%d].reference_name is required", i, j)
			}
		}
		ids[w.ID] = struct{}{}
	}
	return nil
}

// sort orders snapshot collections deterministically.
func (s *Snapshot) sort() {
	sort.SliceStable(s.Projects, func(i, j int) bool {
		return strings.ToLower(s.Projects[i].Name) < strings.ToLower(s.Projects[j].Name)
	})
	sort.SliceStable(s.WorkItemTypes, func(i, j int) bool {
		return typeKey(s.WorkItemTypes[i].Project, s.WorkItemTypes[i].Name) < typeKey(s.WorkItemTypes[j].Project, s.WorkItemTypes[j].Name)
	})
	sort.SliceStable(s.WorkItems, func(i, j int) bool {
		return s.WorkItems[i].ID < s.WorkItems[j].ID
	})
}

// typeKey builds the case-insensitive project/type lookup key.
func typeKey(project, name string) string {
	return strings.ToLower(strings.TrimSpace(project)) + "/" + strings.ToLower(strings.TrimSpace(name))
}

// IsEmpty reports whether the snapshot carries no records.
func (s Snapshot) IsEmpty() bool {
	return len(s.Projects) == 0 && len(s.WorkItemTypes) == 0 && len(s.WorkItems) == 0
}
