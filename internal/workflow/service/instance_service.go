package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
)

// InstanceService manages the lifecycle of workflow instances. Every state
// mutation runs inside a single database transaction with the instance row
// locked, so concurrent calls on the same instance serialize and the loser
// observes the already-applied transition.
type InstanceService struct {
	db        *gorm.DB
	templates TemplateProvider
	instances InstanceRepository
	processes ProcessRepository
	engine    *AdvancementEngine
	notifyCh  chan<- model.WorkflowEventNotification
}

func NewInstanceService(
	db *gorm.DB,
	templates TemplateProvider,
	instances InstanceRepository,
	processes ProcessRepository,
	engine *AdvancementEngine,
	notifyCh chan<- model.WorkflowEventNotification,
) *InstanceService {
	return &InstanceService{
		db:        db,
		templates: templates,
		instances: instances,
		processes: processes,
		engine:    engine,
		notifyCh:  notifyCh,
	}
}

// StartInstance creates a running instance for a business record. The
// template's node list is snapshot-copied onto the instance, the first node
// is opened and administrative nodes collapse immediately, all within one
// transaction.
func (s *InstanceService) StartInstance(ctx context.Context, createReq *model.StartInstanceDTO, createdBy string) (*model.WorkflowInstance, error) {
	if createReq == nil {
		return nil, fmt.Errorf("%w: start request cannot be nil", model.ErrValidation)
	}
	if createReq.BusinessType == "" || createReq.BusinessID == "" {
		return nil, fmt.Errorf("%w: businessType and businessId are required", model.ErrValidation)
	}
	if createReq.WorkflowCode == "" && createReq.CaseType == "" {
		return nil, fmt.Errorf("%w: either workflowCode or caseType is required", model.ErrValidation)
	}
	if createdBy == "" {
		return nil, fmt.Errorf("%w: creating user is required", model.ErrValidation)
	}

	template, err := s.lookupTemplate(ctx, createReq)
	if err != nil {
		return nil, err
	}

	var result *AdvanceResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instance := &model.WorkflowInstance{
			WorkflowID:       template.ID,
			Nodes:            template.Nodes,
			BusinessType:     createReq.BusinessType,
			BusinessID:       createReq.BusinessID,
			BusinessTitle:    createReq.BusinessTitle,
			CurrentNodeIndex: 0,
			Status:           model.InstanceStatusPending,
			CreatedBy:        createdBy,
		}
		if err := s.instances.CreateInstanceInTx(ctx, tx, instance); err != nil {
			return err
		}

		result, err = s.engine.Start(ctx, tx, instance)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workflow instance started",
		"instanceID", result.Instance.ID,
		"template", template.Code,
		"businessType", createReq.BusinessType,
		"businessID", createReq.BusinessID,
		"nodeIndex", result.Instance.CurrentNodeIndex,
		"status", result.Instance.Status)

	s.notify(ctx, result)
	return result.Instance, nil
}

// AdvanceInstance applies one approve/reject decision to the instance's
// current node.
func (s *InstanceService) AdvanceInstance(ctx context.Context, instanceID uuid.UUID, actorID string, req *model.AdvanceDTO) (*model.WorkflowInstance, error) {
	if instanceID == uuid.Nil {
		return nil, fmt.Errorf("instance ID cannot be nil")
	}

	var result *AdvanceResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instance, err := s.instances.GetInstanceByIDForUpdateInTx(ctx, tx, instanceID)
		if err != nil {
			return err
		}

		result, err = s.engine.Advance(ctx, tx, instance, actorID, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workflow instance advanced",
		"instanceID", instanceID,
		"actor", actorID,
		"decision", req.Decision,
		"nodeIndex", result.Instance.CurrentNodeIndex,
		"status", result.Instance.Status)

	s.notify(ctx, result)
	return result.Instance, nil
}

// CancelInstance aborts a pending instance. The open process row stays as
// history; the terminal status is what marks it dead.
func (s *InstanceService) CancelInstance(ctx context.Context, instanceID uuid.UUID, byUserID string) (*model.WorkflowInstance, error) {
	if instanceID == uuid.Nil {
		return nil, fmt.Errorf("instance ID cannot be nil")
	}
	if byUserID == "" {
		return nil, fmt.Errorf("%w: cancelling user is required", model.ErrValidation)
	}

	var instance *model.WorkflowInstance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		instance, err = s.instances.GetInstanceByIDForUpdateInTx(ctx, tx, instanceID)
		if err != nil {
			return err
		}

		if instance.Status != model.InstanceStatusPending {
			return fmt.Errorf("%w: cannot cancel workflow instance %s in status %s",
				model.ErrInvalidState, instanceID, instance.Status)
		}

		instance.Status = model.InstanceStatusCancelled
		return s.instances.UpdateInstanceInTx(ctx, tx, instance)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workflow instance cancelled",
		"instanceID", instanceID,
		"byUser", byUserID)

	s.notify(ctx, &AdvanceResult{
		Instance: instance,
		Notification: &model.WorkflowEventNotification{
			InstanceID:    instance.ID,
			BusinessType:  instance.BusinessType,
			BusinessID:    instance.BusinessID,
			BusinessTitle: instance.BusinessTitle,
			Status:        instance.Status,
		},
	})
	return instance, nil
}

// GetInstance returns an instance together with its full node-visit history.
func (s *InstanceService) GetInstance(ctx context.Context, instanceID uuid.UUID) (*model.InstanceDetailDTO, error) {
	instance, err := s.instances.GetInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	processes, err := s.processes.ListProcessesByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return &model.InstanceDetailDTO{
		Instance:  *instance,
		Processes: processes,
	}, nil
}

// GetPendingForUser returns the "waiting on me" dashboard entries for a user.
func (s *InstanceService) GetPendingForUser(ctx context.Context, userID string, offset *int, limit *int) ([]model.PendingApprovalDTO, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", model.ErrValidation)
	}
	return s.processes.ListPendingForUser(ctx, userID, offset, limit)
}

func (s *InstanceService) lookupTemplate(ctx context.Context, createReq *model.StartInstanceDTO) (*model.WorkflowTemplate, error) {
	if createReq.WorkflowCode != "" {
		return s.templates.GetTemplateByCode(ctx, createReq.WorkflowCode)
	}
	return s.templates.GetTemplateByCaseType(ctx, createReq.CaseType)
}

// notify pushes a terminal-status event onto the manager's channel. Dropping
// an event when the channel is saturated is logged, never blocking the
// request that triggered it.
func (s *InstanceService) notify(ctx context.Context, result *AdvanceResult) {
	if result == nil || result.Notification == nil || s.notifyCh == nil {
		return
	}
	select {
	case s.notifyCh <- *result.Notification:
	default:
		slog.WarnContext(ctx, "workflow event channel full, dropping notification",
			"instanceID", result.Notification.InstanceID,
			"status", result.Notification.Status)
	}
}
