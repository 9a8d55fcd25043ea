package domain

import (
	"strings"
	"time"
)

// Project represents a team project that owns work items and work item types.
type Project struct {
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewProject constructs a new value for this package.
func NewProject(name, description string, now time.Time) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) {
		return Project{}, ErrInvalidName
	}

	return Project{
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// UpdateDescription replaces the free-form project description.
func (p *Project) UpdateDescription(description string, now time.Time) {
	p.Description = strings.TrimSpace(description)
	p.UpdatedAt = now.UTC()
}
