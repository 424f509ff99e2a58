package service

import (
	"context"
	"fmt"

	"github.com/happy-code-egg/ruidao-sub004/internal/org"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
)

// Dynamic rule tags understood by the default resolver registry.
const (
	RuleSubmitterSupervisor = "submitter_supervisor"
	RuleDepartmentHead      = "department_head"
)

// ResolveContext carries the business facts a dynamic rule may consult.
type ResolveContext struct {
	BusinessType string
	BusinessID   string
	CreatedBy    string
}

// AssigneeResolver resolves a node definition to the concrete set of user IDs
// eligible to act on it. An empty result with no error means the node is open
// to any authenticated actor; an error means a declared rule could not be
// resolved (nobody can act until the directory is fixed).
type AssigneeResolver interface {
	Resolve(ctx context.Context, node model.NodeDefinition, rctx ResolveContext) (model.StringList, error)
}

// RuleFunc resolves one dynamic assignee rule against the business context.
type RuleFunc func(ctx context.Context, rctx ResolveContext) (model.StringList, error)

// RegistryResolver dispatches dynamic rules through a tag registry instead of
// ad hoc conditionals. Fixed candidate lists on the node win over rules.
type RegistryResolver struct {
	rules map[string]RuleFunc
}

// NewAssigneeResolver builds a resolver with the built-in org-hierarchy rules
// registered against the given directory.
func NewAssigneeResolver(directory *org.Service) *RegistryResolver {
	r := &RegistryResolver{rules: make(map[string]RuleFunc)}

	r.Register(RuleSubmitterSupervisor, func(ctx context.Context, rctx ResolveContext) (model.StringList, error) {
		supervisorID, err := directory.SupervisorOf(ctx, rctx.CreatedBy)
		if err != nil {
			return nil, err
		}
		return model.StringList{supervisorID}, nil
	})

	r.Register(RuleDepartmentHead, func(ctx context.Context, rctx ResolveContext) (model.StringList, error) {
		headID, err := directory.DepartmentHeadOf(ctx, rctx.CreatedBy)
		if err != nil {
			return nil, err
		}
		return model.StringList{headID}, nil
	})

	return r
}

// Register adds or replaces a dynamic rule.
func (r *RegistryResolver) Register(tag string, fn RuleFunc) {
	r.rules[tag] = fn
}

// Resolve applies the resolution policy: fixed list verbatim, then the
// dynamic rule, then open-to-anyone.
func (r *RegistryResolver) Resolve(ctx context.Context, node model.NodeDefinition, rctx ResolveContext) (model.StringList, error) {
	if len(node.Assignees) > 0 {
		return node.Assignees, nil
	}

	if node.AssigneeRule != "" {
		fn, ok := r.rules[node.AssigneeRule]
		if !ok {
			return nil, fmt.Errorf("unknown assignee rule %q on node %s", node.AssigneeRule, node.Name)
		}
		resolved, err := fn(ctx, rctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve assignee rule %q on node %s: %w", node.AssigneeRule, node.Name, err)
		}
		return resolved, nil
	}

	return nil, nil
}
