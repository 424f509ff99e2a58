package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
	"github.com/happy-code-egg/ruidao-sub004/utils"
)

// TemplateProvider is the subset of template lookups the instance manager
// needs to start a flow.
type TemplateProvider interface {
	GetTemplateByCode(ctx context.Context, code string) (*model.WorkflowTemplate, error)
	GetTemplateByCaseType(ctx context.Context, caseType string) (*model.WorkflowTemplate, error)
}

// TemplateService manages workflow template definitions. Templates are
// treated as immutable values once instances reference them; instances carry
// their own node-list snapshot, so edits here never touch in-flight flows.
type TemplateService struct {
	db        *gorm.DB
	instances InstanceRepository
}

func NewTemplateService(db *gorm.DB, instances InstanceRepository) *TemplateService {
	return &TemplateService{db: db, instances: instances}
}

// CreateTemplate validates the node-list invariants and persists a new
// template in enabled state.
func (s *TemplateService) CreateTemplate(ctx context.Context, createReq *model.CreateTemplateDTO) (*model.WorkflowTemplate, error) {
	if createReq == nil {
		return nil, fmt.Errorf("%w: create request cannot be nil", model.ErrValidation)
	}
	if createReq.Name == "" || createReq.Code == "" || createReq.CaseType == "" {
		return nil, fmt.Errorf("%w: name, code and caseType are required", model.ErrValidation)
	}
	if err := createReq.Nodes.Validate(); err != nil {
		return nil, err
	}

	template := &model.WorkflowTemplate{
		Name:     createReq.Name,
		Code:     createReq.Code,
		CaseType: createReq.CaseType,
		Status:   model.TemplateStatusEnabled,
		Version:  1,
		Nodes:    createReq.Nodes,
	}

	if err := s.db.WithContext(ctx).Create(template).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: template code %q already exists", model.ErrValidation, createReq.Code)
		}
		return nil, fmt.Errorf("failed to create workflow template: %w", err)
	}

	slog.InfoContext(ctx, "workflow template created",
		"templateID", template.ID,
		"code", template.Code,
		"caseType", template.CaseType,
		"nodes", len(template.Nodes))

	return template, nil
}

// GetTemplateByID retrieves a template by its ID.
func (s *TemplateService) GetTemplateByID(ctx context.Context, templateID uuid.UUID) (*model.WorkflowTemplate, error) {
	if templateID == uuid.Nil {
		return nil, fmt.Errorf("template ID cannot be nil")
	}

	var template model.WorkflowTemplate
	result := s.db.WithContext(ctx).First(&template, "id = ?", templateID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: workflow template %s", model.ErrNotFound, templateID)
		}
		return nil, fmt.Errorf("failed to retrieve workflow template: %w", result.Error)
	}
	return &template, nil
}

// GetTemplateByCode retrieves an enabled template by its unique code.
func (s *TemplateService) GetTemplateByCode(ctx context.Context, code string) (*model.WorkflowTemplate, error) {
	if code == "" {
		return nil, fmt.Errorf("template code cannot be empty")
	}

	var template model.WorkflowTemplate
	result := s.db.WithContext(ctx).
		Where("code = ? AND status = ?", code, model.TemplateStatusEnabled).
		First(&template)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no enabled workflow template with code %q", model.ErrNotFound, code)
		}
		return nil, fmt.Errorf("failed to retrieve workflow template: %w", result.Error)
	}
	return &template, nil
}

// GetTemplateByCaseType returns the newest enabled template for a domain
// classifier.
func (s *TemplateService) GetTemplateByCaseType(ctx context.Context, caseType string) (*model.WorkflowTemplate, error) {
	if caseType == "" {
		return nil, fmt.Errorf("case type cannot be empty")
	}

	var template model.WorkflowTemplate
	result := s.db.WithContext(ctx).
		Where("case_type = ? AND status = ?", caseType, model.TemplateStatusEnabled).
		Order("created_at DESC").
		First(&template)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no enabled workflow template for case type %q", model.ErrNotFound, caseType)
		}
		return nil, fmt.Errorf("failed to retrieve workflow template: %w", result.Error)
	}
	return &template, nil
}

// ListTemplates returns templates, optionally narrowed to a case type.
func (s *TemplateService) ListTemplates(ctx context.Context, filter model.TemplateFilter) ([]model.WorkflowTemplate, error) {
	offset, limit := utils.GetPaginationParams(filter.Offset, filter.Limit)

	query := s.db.WithContext(ctx).Model(&model.WorkflowTemplate{})
	if filter.CaseType != nil && *filter.CaseType != "" {
		query = query.Where("case_type = ?", *filter.CaseType)
	}

	var templates []model.WorkflowTemplate
	result := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&templates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list workflow templates: %w", result.Error)
	}
	return templates, nil
}

// SetTemplateStatus enables or disables a template. Disabling only stops new
// instances; in-flight instances run on their own snapshot.
func (s *TemplateService) SetTemplateStatus(ctx context.Context, templateID uuid.UUID, status model.TemplateStatus) (*model.WorkflowTemplate, error) {
	if status != model.TemplateStatusEnabled && status != model.TemplateStatusDisabled {
		return nil, fmt.Errorf("%w: unknown template status %q", model.ErrValidation, status)
	}

	template, err := s.GetTemplateByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	template.Status = status
	if err := s.db.WithContext(ctx).Save(template).Error; err != nil {
		return nil, fmt.Errorf("failed to update workflow template %s: %w", templateID, err)
	}

	slog.InfoContext(ctx, "workflow template status changed",
		"templateID", templateID,
		"status", status)

	return template, nil
}

// DeleteTemplate soft-deletes a template. Templates referenced by pending
// instances cannot be deleted.
func (s *TemplateService) DeleteTemplate(ctx context.Context, templateID uuid.UUID) error {
	template, err := s.GetTemplateByID(ctx, templateID)
	if err != nil {
		return err
	}

	pending, err := s.instances.CountPendingByWorkflowID(ctx, templateID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%w: template %s has %d pending instances", model.ErrInvalidState, templateID, pending)
	}

	if err := s.db.WithContext(ctx).Delete(template).Error; err != nil {
		return fmt.Errorf("failed to delete workflow template %s: %w", templateID, err)
	}

	slog.InfoContext(ctx, "workflow template deleted", "templateID", templateID, "code", template.Code)
	return nil
}
