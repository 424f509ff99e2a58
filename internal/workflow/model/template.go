package model

import (
	"fmt"

	"gorm.io/gorm"
)

// NodeType classifies a step within an approval flow.
type NodeType string

const (
	NodeTypeStart   NodeType = "start"   // Administrative entry node, auto-closed when it has no assignees
	NodeTypeReview  NodeType = "review"  // Human review step
	NodeTypeProcess NodeType = "process" // Human processing step (e.g. filing, fee handling)
	NodeTypeConfirm NodeType = "confirm" // Final human confirmation step
	NodeTypeEnd     NodeType = "end"     // Administrative exit node, auto-closed when it has no assignees
)

// TemplateStatus represents whether a template can spawn new instances.
type TemplateStatus string

const (
	TemplateStatusEnabled  TemplateStatus = "enabled"
	TemplateStatusDisabled TemplateStatus = "disabled"
)

// NodeDefinition is one step in a workflow template. Assignees is the fixed
// candidate list; AssigneeRule is a dynamic resolution tag consulted when the
// fixed list is empty. TimeLimitHours is reporting metadata only and is never
// enforced by the engine.
type NodeDefinition struct {
	Name           string     `json:"name"`
	Type           NodeType   `json:"type"`
	Description    string     `json:"description,omitempty"`
	Assignees      StringList `json:"assignees,omitempty"`
	AssigneeRule   string     `json:"assigneeRule,omitempty"`
	TimeLimitHours int        `json:"timeLimitHours,omitempty"`
	Required       bool       `json:"required"`
}

// AutoCloseable reports whether the engine closes this node without human
// action. Only administrative start/end nodes with no resolved candidates
// collapse automatically.
func (n NodeDefinition) AutoCloseable(resolved StringList) bool {
	if len(resolved) > 0 {
		return false
	}
	return n.Type == NodeTypeStart || n.Type == NodeTypeEnd
}

// NodeList is the ordered node-definition array of a template, stored as a
// jsonb column and snapshot-copied onto every instance at start time.
type NodeList []NodeDefinition

// Validate enforces the structural invariants of a template node list.
// All failures wrap ErrValidation.
func (nodes NodeList) Validate() error {
	if len(nodes) < 2 {
		return fmt.Errorf("%w: template must have at least 2 nodes, got %d", ErrValidation, len(nodes))
	}
	if nodes[0].Type != NodeTypeStart {
		return fmt.Errorf("%w: first node must be of type %q, got %q", ErrValidation, NodeTypeStart, nodes[0].Type)
	}
	if nodes[len(nodes)-1].Type != NodeTypeEnd {
		return fmt.Errorf("%w: last node must be of type %q, got %q", ErrValidation, NodeTypeEnd, nodes[len(nodes)-1].Type)
	}
	for i, node := range nodes {
		if node.Name == "" {
			return fmt.Errorf("%w: node %d has no name", ErrValidation, i)
		}
		switch node.Type {
		case NodeTypeStart:
			if i != 0 {
				return fmt.Errorf("%w: node %d (%s) of type start must be first", ErrValidation, i, node.Name)
			}
		case NodeTypeEnd:
			if i != len(nodes)-1 {
				return fmt.Errorf("%w: node %d (%s) of type end must be last", ErrValidation, i, node.Name)
			}
		case NodeTypeReview, NodeTypeProcess, NodeTypeConfirm:
			if node.Required && node.TimeLimitHours <= 0 {
				return fmt.Errorf("%w: required node %d (%s) must declare a positive time limit", ErrValidation, i, node.Name)
			}
		default:
			return fmt.Errorf("%w: node %d (%s) has unknown type %q", ErrValidation, i, node.Name, node.Type)
		}
	}
	return nil
}

// WorkflowTemplate is a named, versioned approval-flow definition keyed by
// case type. Templates are soft-deleted only; in-flight instances keep their
// own snapshot of Nodes and never observe later edits.
type WorkflowTemplate struct {
	BaseModel
	Name     string         `gorm:"type:varchar(100);column:name;not null" json:"name"`
	Code     string         `gorm:"type:varchar(100);column:code;not null;uniqueIndex" json:"code"`
	CaseType string         `gorm:"type:varchar(50);column:case_type;not null;index" json:"caseType"`
	Status   TemplateStatus `gorm:"type:varchar(20);column:status;not null" json:"status"`
	Version  int            `gorm:"type:integer;column:version;not null;default:1" json:"version"`
	Nodes    NodeList       `gorm:"type:jsonb;column:nodes;not null;serializer:json" json:"nodes"`
	Deleted  gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (wt *WorkflowTemplate) TableName() string {
	return "workflow_templates"
}

// CreateTemplateDTO carries the admin-facing template creation payload.
type CreateTemplateDTO struct {
	Name     string   `json:"name" binding:"required"`
	Code     string   `json:"code" binding:"required"`
	CaseType string   `json:"caseType" binding:"required"`
	Nodes    NodeList `json:"nodes" binding:"required"`
}

// UpdateTemplateStatusDTO enables or disables a template.
type UpdateTemplateStatusDTO struct {
	Status TemplateStatus `json:"status" binding:"required"`
}

// TemplateFilter narrows template listing.
type TemplateFilter struct {
	CaseType *string
	Offset   *int
	Limit    *int
}
