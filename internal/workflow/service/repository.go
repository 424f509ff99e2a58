package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
	"github.com/happy-code-egg/ruidao-sub004/utils"
)

// InstanceRepository abstracts persistence of workflow instances. All InTx
// variants operate on an existing transaction so the advancement engine can
// compose them atomically.
type InstanceRepository interface {
	CreateInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) error
	GetInstanceByID(ctx context.Context, instanceID uuid.UUID) (*model.WorkflowInstance, error)
	// GetInstanceByIDForUpdateInTx loads the instance under a row-level lock
	// so concurrent advancement on the same instance serializes.
	GetInstanceByIDForUpdateInTx(ctx context.Context, tx *gorm.DB, instanceID uuid.UUID) (*model.WorkflowInstance, error)
	UpdateInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) error
	CountPendingByWorkflowID(ctx context.Context, workflowID uuid.UUID) (int64, error)
}

// ProcessRepository abstracts persistence of node-visit rows.
type ProcessRepository interface {
	CreateProcessInTx(ctx context.Context, tx *gorm.DB, process *model.WorkflowProcess) error
	// GetOpenProcessInTx returns the single pending row for the given node
	// index, or an ErrNotFound-wrapped error if no such row is open.
	GetOpenProcessInTx(ctx context.Context, tx *gorm.DB, instanceID uuid.UUID, nodeIndex int) (*model.WorkflowProcess, error)
	UpdateProcessInTx(ctx context.Context, tx *gorm.DB, process *model.WorkflowProcess) error
	ListProcessesByInstanceID(ctx context.Context, instanceID uuid.UUID) ([]model.WorkflowProcess, error)
	ListPendingForUser(ctx context.Context, userID string, offset *int, limit *int) ([]model.PendingApprovalDTO, error)
}

// GormWorkflowRepository is the postgres-backed implementation of both
// repository interfaces.
type GormWorkflowRepository struct {
	db *gorm.DB
}

func NewGormWorkflowRepository(db *gorm.DB) *GormWorkflowRepository {
	return &GormWorkflowRepository{db: db}
}

func (r *GormWorkflowRepository) CreateInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) error {
	if instance == nil {
		return fmt.Errorf("instance cannot be nil")
	}
	if err := tx.WithContext(ctx).Create(instance).Error; err != nil {
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}
	return nil
}

func (r *GormWorkflowRepository) GetInstanceByID(ctx context.Context, instanceID uuid.UUID) (*model.WorkflowInstance, error) {
	if instanceID == uuid.Nil {
		return nil, fmt.Errorf("instance ID cannot be nil")
	}

	var instance model.WorkflowInstance
	result := r.db.WithContext(ctx).First(&instance, "id = ?", instanceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: workflow instance %s", model.ErrNotFound, instanceID)
		}
		return nil, fmt.Errorf("failed to retrieve workflow instance: %w", result.Error)
	}
	return &instance, nil
}

func (r *GormWorkflowRepository) GetInstanceByIDForUpdateInTx(ctx context.Context, tx *gorm.DB, instanceID uuid.UUID) (*model.WorkflowInstance, error) {
	if instanceID == uuid.Nil {
		return nil, fmt.Errorf("instance ID cannot be nil")
	}

	var instance model.WorkflowInstance
	result := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&instance, "id = ?", instanceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: workflow instance %s", model.ErrNotFound, instanceID)
		}
		return nil, fmt.Errorf("failed to lock workflow instance: %w", result.Error)
	}
	return &instance, nil
}

func (r *GormWorkflowRepository) UpdateInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) error {
	if instance == nil {
		return fmt.Errorf("instance cannot be nil")
	}
	if err := tx.WithContext(ctx).Save(instance).Error; err != nil {
		return fmt.Errorf("failed to update workflow instance %s: %w", instance.ID, err)
	}
	return nil
}

func (r *GormWorkflowRepository) CountPendingByWorkflowID(ctx context.Context, workflowID uuid.UUID) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&model.WorkflowInstance{}).
		Where("workflow_id = ? AND status = ?", workflowID, model.InstanceStatusPending).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count pending instances: %w", result.Error)
	}
	return count, nil
}

func (r *GormWorkflowRepository) CreateProcessInTx(ctx context.Context, tx *gorm.DB, process *model.WorkflowProcess) error {
	if process == nil {
		return fmt.Errorf("process cannot be nil")
	}
	if err := tx.WithContext(ctx).Create(process).Error; err != nil {
		return fmt.Errorf("failed to create workflow process: %w", err)
	}
	return nil
}

func (r *GormWorkflowRepository) GetOpenProcessInTx(ctx context.Context, tx *gorm.DB, instanceID uuid.UUID, nodeIndex int) (*model.WorkflowProcess, error) {
	if instanceID == uuid.Nil {
		return nil, fmt.Errorf("instance ID cannot be nil")
	}

	var process model.WorkflowProcess
	result := tx.WithContext(ctx).
		Where("instance_id = ? AND node_index = ? AND action = ?", instanceID, nodeIndex, model.ProcessActionPending).
		First(&process)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no open process row for instance %s at node %d",
				model.ErrNotFound, instanceID, nodeIndex)
		}
		return nil, fmt.Errorf("failed to retrieve open process row: %w", result.Error)
	}
	return &process, nil
}

func (r *GormWorkflowRepository) UpdateProcessInTx(ctx context.Context, tx *gorm.DB, process *model.WorkflowProcess) error {
	if process == nil {
		return fmt.Errorf("process cannot be nil")
	}
	if err := tx.WithContext(ctx).Save(process).Error; err != nil {
		return fmt.Errorf("failed to update workflow process %s: %w", process.ID, err)
	}
	return nil
}

func (r *GormWorkflowRepository) ListProcessesByInstanceID(ctx context.Context, instanceID uuid.UUID) ([]model.WorkflowProcess, error) {
	if instanceID == uuid.Nil {
		return nil, fmt.Errorf("instance ID cannot be nil")
	}

	var processes []model.WorkflowProcess
	result := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("node_index ASC, created_at ASC").
		Find(&processes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to retrieve workflow processes: %w", result.Error)
	}
	return processes, nil
}

// pendingRow is the scan target for the dashboard join.
type pendingRow struct {
	ProcessID     uuid.UUID
	InstanceID    uuid.UUID
	NodeIndex     int
	NodeName      string
	BusinessType  string
	BusinessID    string
	BusinessTitle string
	CreatedBy     string
	WaitingSince  time.Time
}

// ListPendingForUser returns open process rows whose resolved candidate set
// contains the user, plus rows open to any actor (empty candidate set). Uses
// the PostgreSQL jsonb containment operator @> on the assignees column.
func (r *GormWorkflowRepository) ListPendingForUser(ctx context.Context, userID string, offset *int, limit *int) ([]model.PendingApprovalDTO, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}

	candidate, err := json.Marshal([]string{userID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidate filter: %w", err)
	}

	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)

	var rows []pendingRow
	result := r.db.WithContext(ctx).
		Table("workflow_processes AS p").
		Select(`p.id AS process_id, p.node_index, p.node_name, p.created_at AS waiting_since,
			i.id AS instance_id, i.business_type, i.business_id, i.business_title, i.created_by`).
		Joins("JOIN workflow_instances i ON i.id = p.instance_id").
		Where("p.action = ?", model.ProcessActionPending).
		Where("i.status = ?", model.InstanceStatusPending).
		Where("(p.assignees @> ? OR p.assignees = '[]'::jsonb)", string(candidate)).
		Order("p.created_at ASC").
		Offset(finalOffset).
		Limit(finalLimit).
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to retrieve pending approvals: %w", result.Error)
	}

	pending := make([]model.PendingApprovalDTO, len(rows))
	for i, row := range rows {
		pending[i] = model.PendingApprovalDTO{
			ProcessID:     row.ProcessID,
			InstanceID:    row.InstanceID,
			NodeIndex:     row.NodeIndex,
			NodeName:      row.NodeName,
			BusinessType:  row.BusinessType,
			BusinessID:    row.BusinessID,
			BusinessTitle: row.BusinessTitle,
			CreatedBy:     row.CreatedBy,
			WaitingSince:  row.WaitingSince.UTC().Format(time.RFC3339),
		}
	}
	return pending, nil
}
