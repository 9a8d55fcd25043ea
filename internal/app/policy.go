package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hylla/witcopier/internal/domain"
)

// Copy policy defaults.
const (
	DefaultSourceProject = "Scrum"
	DefaultTargetProject = "CopyTarget"
	DefaultTriggerState  = "Removed"
	DefaultExpectedType  = "Bug"
)

// DefaultExcludedFields lists the fields a copy never carries over.
func DefaultExcludedFields() []string {
	return []string{
		domain.FieldAreaID,
		domain.FieldIterationID,
		domain.FieldAreaPath,
		domain.FieldIterationPath,
		domain.FieldState,
	}
}

// CopyPolicyInput holds input values for building a copy policy.
type CopyPolicyInput struct {
	SourceProject    string
	TargetProject    string
	TriggerState     string
	ExpectedType     string
	ExcludedFields   []string
	RequireTypeMatch bool
}

// CopyPolicy is the validated, immutable copy configuration.
type CopyPolicy struct {
	sourceProject    string
	targetProject    string
	triggerState     string
	expectedType     string
	excluded         []string
	requireTypeMatch bool
}

// DefaultCopyPolicyInput returns the stock policy values.
func DefaultCopyPolicyInput() CopyPolicyInput {
	return CopyPolicyInput{
		SourceProject:    DefaultSourceProject,
		TargetProject:    DefaultTargetProject,
		TriggerState:     DefaultTriggerState,
		ExpectedType:     DefaultExpectedType,
		ExcludedFields:   DefaultExcludedFields(),
		RequireTypeMatch: true,
	}
}

// DefaultCopyPolicy returns the stock policy.
func DefaultCopyPolicy() CopyPolicy {
	policy, err := NewCopyPolicy(DefaultCopyPolicyInput())
	if err != nil {
		panic(err)
	}
	return policy
}

// NewCopyPolicy validates input and constructs a policy.
func NewCopyPolicy(in CopyPolicyInput) (CopyPolicy, error) {
	policy := CopyPolicy{
		sourceProject:    strings.TrimSpace(in.SourceProject),
		targetProject:    strings.TrimSpace(in.TargetProject),
		triggerState:     strings.TrimSpace(in.TriggerState),
		expectedType:     strings.TrimSpace(in.ExpectedType),
		requireTypeMatch: in.RequireTypeMatch,
	}
	switch {
	case policy.sourceProject == "":
		return CopyPolicy{}, fmt.Errorf("%w: source project is required", ErrInvalidPolicy)
	case policy.targetProject == "":
		return CopyPolicy{}, fmt.Errorf("%w: target project is required", ErrInvalidPolicy)
	case policy.triggerState == "":
		return CopyPolicy{}, fmt.Errorf("%w: trigger state is required", ErrInvalidPolicy)
	case policy.expectedType == "":
		return CopyPolicy{}, fmt.Errorf("%w: expected type is required", ErrInvalidPolicy)
	}

	seen := map[string]struct{}{}
	for i, raw := range in.ExcludedFields {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			return CopyPolicy{}, fmt.Errorf("%w: excluded_fields[%d] is empty", ErrInvalidPolicy, i)
		}
		key := strings.ToLower(ref)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		policy.excluded = append(policy.excluded, ref)
	}
	return policy, nil
}

// SourceProject returns the project whose items are watched.
func (p CopyPolicy) SourceProject() string { return p.sourceProject }

// TargetProject returns the project copies are created in.
func (p CopyPolicy) TargetProject() string { return p.targetProject }

// TriggerState returns the state transition that triggers a copy.
func (p CopyPolicy) TriggerState() string { return p.triggerState }

// ExpectedType returns the work item type copied and created.
func (p CopyPolicy) ExpectedType() string { return p.expectedType }

// RequireTypeMatch reports whether the source item type is checked before copying.
func (p CopyPolicy) RequireTypeMatch() bool { return p.requireTypeMatch }

// ExcludedFields returns a copy of the exclusion set.
func (p CopyPolicy) ExcludedFields() []string { return slices.Clone(p.excluded) }

// IsExcluded reports whether a reference name is never copied.
func (p CopyPolicy) IsExcluded(referenceName string) bool {
	for _, ref := range p.excluded {
		if strings.EqualFold(ref, referenceName) {
			return true
		}
	}
	return false
}
