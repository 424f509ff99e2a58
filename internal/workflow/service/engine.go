package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
)

// AdvanceResult describes what one advancement call changed.
type AdvanceResult struct {
	// Instance is the instance after the transition, with its new index and status.
	Instance *model.WorkflowInstance

	// Closed contains the process rows closed during this call, in order.
	Closed []model.WorkflowProcess

	// Opened contains the process rows opened during this call (at most one
	// remains open; auto-closed administrative rows appear in Closed).
	Opened []model.WorkflowProcess

	// Notification is non-nil when the instance reached a terminal status.
	Notification *model.WorkflowEventNotification
}

// AdvancementEngine is the node-advancement state machine. It operates inside
// a caller-provided transaction: the instance row is expected to be locked and
// every mutation happens through the InTx repository methods, so a failure
// anywhere rolls the whole transition back.
type AdvancementEngine struct {
	instances InstanceRepository
	processes ProcessRepository
	resolver  AssigneeResolver
}

func NewAdvancementEngine(instances InstanceRepository, processes ProcessRepository, resolver AssigneeResolver) *AdvancementEngine {
	return &AdvancementEngine{
		instances: instances,
		processes: processes,
		resolver:  resolver,
	}
}

// Start opens the first node of a freshly created instance and collapses any
// run of auto-closeable administrative nodes. The instance must already be
// persisted, pending, at index 0.
func (e *AdvancementEngine) Start(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) (*AdvanceResult, error) {
	if instance == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}
	if err := instance.Nodes.Validate(); err != nil {
		return nil, err
	}

	result := &AdvanceResult{Instance: instance}
	if err := e.openCurrentNode(ctx, tx, instance, result); err != nil {
		return nil, err
	}
	if err := e.instances.UpdateInstanceInTx(ctx, tx, instance); err != nil {
		return nil, err
	}

	e.stampNotification(instance, result)
	return result, nil
}

// Advance applies one approve/reject decision to the instance's current node.
// Steps follow the contract: state guard, open-row lookup, permission check,
// row close, then rejection halt or approval advance with auto-collapse.
func (e *AdvancementEngine) Advance(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance, actorID string, req *model.AdvanceDTO) (*AdvanceResult, error) {
	if instance == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}
	if req == nil || !req.Decision.Valid() {
		return nil, fmt.Errorf("%w: decision must be %q or %q", model.ErrValidation, model.DecisionApprove, model.DecisionReject)
	}
	if req.NodeIndex == nil {
		return nil, fmt.Errorf("%w: nodeIndex of the decided node is required", model.ErrValidation)
	}
	if actorID == "" {
		return nil, fmt.Errorf("%w: acting user is required", model.ErrPermissionDenied)
	}

	if instance.Status != model.InstanceStatusPending {
		if instance.Status == model.InstanceStatusCancelled {
			return nil, fmt.Errorf("%w: workflow instance %s was cancelled", model.ErrInvalidState, instance.ID)
		}
		return nil, fmt.Errorf("%w: workflow instance %s has already been decided (%s)",
			model.ErrInvalidState, instance.ID, instance.Status)
	}

	// The index the approver saw must still be current under the row lock; a
	// stale index means someone else decided that node first, and the request
	// must not fall through onto the successor node.
	if *req.NodeIndex != instance.CurrentNodeIndex {
		return nil, fmt.Errorf("%w: node %d of instance %s has already been decided",
			model.ErrInvalidState, *req.NodeIndex, instance.ID)
	}

	node, err := instance.CurrentNode()
	if err != nil {
		return nil, err
	}

	openRow, err := e.processes.GetOpenProcessInTx(ctx, tx, instance.ID, instance.CurrentNodeIndex)
	if err != nil {
		return nil, err
	}

	if !actorPermitted(node, openRow, actorID) {
		return nil, fmt.Errorf("%w: user %s is not an assignee of node %s (not your turn)",
			model.ErrPermissionDenied, actorID, node.Name)
	}

	now := time.Now().UTC()
	openRow.Action = decisionAction(req.Decision)
	openRow.ProcessorID = &actorID
	openRow.Comment = req.Comment
	openRow.ProcessedAt = &now
	if err := e.processes.UpdateProcessInTx(ctx, tx, openRow); err != nil {
		return nil, err
	}

	result := &AdvanceResult{Instance: instance, Closed: []model.WorkflowProcess{*openRow}}

	if req.Decision == model.DecisionReject {
		// Rejection halts the whole instance; callers start a fresh instance
		// if the business record is resubmitted.
		instance.Status = model.InstanceStatusRejected
	} else if instance.CurrentNodeIndex == len(instance.Nodes)-1 {
		instance.Status = model.InstanceStatusCompleted
	} else {
		instance.CurrentNodeIndex++
		if err := e.openCurrentNode(ctx, tx, instance, result); err != nil {
			return nil, err
		}
	}

	if err := e.instances.UpdateInstanceInTx(ctx, tx, instance); err != nil {
		return nil, err
	}

	e.stampNotification(instance, result)
	return result, nil
}

// openCurrentNode opens the process row for the instance's current node and
// walks forward through auto-closeable administrative nodes. The walk is an
// explicit loop bounded by the node count; exceeding the bound means the
// snapshot is malformed.
func (e *AdvancementEngine) openCurrentNode(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance, result *AdvanceResult) error {
	rctx := ResolveContext{
		BusinessType: instance.BusinessType,
		BusinessID:   instance.BusinessID,
		CreatedBy:    instance.CreatedBy,
	}

	for steps := 0; ; steps++ {
		if steps > len(instance.Nodes) {
			return fmt.Errorf("%w: auto-advancement exceeded %d nodes on instance %s",
				model.ErrValidation, len(instance.Nodes), instance.ID)
		}

		node, err := instance.CurrentNode()
		if err != nil {
			return err
		}

		resolved, err := e.resolver.Resolve(ctx, node, rctx)
		if err != nil {
			// Unresolvable assignees do not block instance creation; the node
			// stays pending with an empty candidate set and surfaces as a
			// permission failure when someone tries to act on it.
			slog.WarnContext(ctx, "failed to resolve assignees for node",
				"instanceID", instance.ID,
				"nodeIndex", instance.CurrentNodeIndex,
				"node", node.Name,
				"error", err)
			resolved = model.StringList{}
		}
		if resolved == nil {
			resolved = model.StringList{}
		}

		process := model.WorkflowProcess{
			InstanceID: instance.ID,
			NodeIndex:  instance.CurrentNodeIndex,
			NodeName:   node.Name,
			Assignees:  resolved,
			Action:     model.ProcessActionPending,
		}
		if len(resolved) == 1 {
			process.AssigneeID = &resolved[0]
		}

		if !node.AutoCloseable(resolved) {
			if err := e.processes.CreateProcessInTx(ctx, tx, &process); err != nil {
				return err
			}
			result.Opened = append(result.Opened, process)
			return nil
		}

		now := time.Now().UTC()
		process.Action = model.ProcessActionAuto
		process.ProcessedAt = &now
		if err := e.processes.CreateProcessInTx(ctx, tx, &process); err != nil {
			return err
		}
		result.Closed = append(result.Closed, process)

		if instance.CurrentNodeIndex == len(instance.Nodes)-1 {
			instance.Status = model.InstanceStatusCompleted
			return nil
		}
		instance.CurrentNodeIndex++
	}
}

// stampNotification records a terminal-status notification on the result.
func (e *AdvancementEngine) stampNotification(instance *model.WorkflowInstance, result *AdvanceResult) {
	if instance.Status == model.InstanceStatusPending {
		return
	}
	result.Notification = &model.WorkflowEventNotification{
		InstanceID:    instance.ID,
		BusinessType:  instance.BusinessType,
		BusinessID:    instance.BusinessID,
		BusinessTitle: instance.BusinessTitle,
		Status:        instance.Status,
	}
}

// actorPermitted checks the acting user against the candidate set resolved
// when the node was entered. Nodes declaring neither fixed assignees nor a
// rule are open to any authenticated actor; nodes whose declared rule
// resolved to nothing permit nobody.
func actorPermitted(node model.NodeDefinition, row *model.WorkflowProcess, actorID string) bool {
	if len(node.Assignees) == 0 && node.AssigneeRule == "" {
		return true
	}
	return row.Assignees.Contains(actorID)
}

func decisionAction(d model.Decision) model.ProcessAction {
	if d == model.DecisionReject {
		return model.ProcessActionReject
	}
	return model.ProcessActionApprove
}
