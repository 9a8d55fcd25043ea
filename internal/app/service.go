package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/witcopier/internal/domain"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service administers the local work item database.
type Service struct {
	repo  Repository
	clock Clock
}

// NewService constructs a new value for this package.
func NewService(repo Repository, clock Clock) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, clock: clock}
}

// EnsureProject returns an existing project or creates it.
func (s *Service) EnsureProject(ctx context.Context, name, description string) (domain.Project, error) {
	existing, err := s.repo.GetProject(ctx, strings.TrimSpace(name))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.Project{}, err
	}
	project, err := domain.NewProject(name, description, s.clock())
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.repo.UpsertProject(ctx, project); err != nil {
		return domain.Project{}, fmt.Errorf("create project %q: %w", project.Name, err)
	}
	return project, nil
}

// DefineWorkItemType creates or replaces one type in an existing project.
func (s *Service) DefineWorkItemType(ctx context.Context, project, name string, fields []domain.FieldDefinition) (domain.WorkItemType, error) {
	wt, err := domain.NewWorkItemType(project, name, fields)
	if err != nil {
		return domain.WorkItemType{}, err
	}
	if _, err := s.repo.GetProject(ctx, wt.Project); err != nil {
		return domain.WorkItemType{}, fmt.Errorf("get project %q: %w", wt.Project, err)
	}
	if err := s.repo.UpsertWorkItemType(ctx, wt); err != nil {
		return domain.WorkItemType{}, fmt.Errorf("define work item type %q: %w", wt.Name, err)
	}
	return wt, nil
}

// GetWorkItem returns one stored item.
func (s *Service) GetWorkItem(ctx context.Context, id int) (domain.WorkItem, error) {
	if id <= 0 {
		return domain.WorkItem{}, domain.ErrInvalidID
	}
	return s.repo.GetWorkItem(ctx, id)
}

// ListCopyActivity returns recent ledger entries, newest first.
func (s *Service) ListCopyActivity(ctx context.Context, limit int) ([]domain.CopyActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListCopyActivity(ctx, limit)
}
