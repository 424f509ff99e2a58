package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessAction is the recorded outcome of one node visit.
type ProcessAction string

const (
	ProcessActionPending ProcessAction = "pending" // Row is open, waiting for an approver
	ProcessActionApprove ProcessAction = "approve"
	ProcessActionReject  ProcessAction = "reject"
	ProcessActionAuto    ProcessAction = "auto" // Closed by the engine without human action
)

// WorkflowProcess is the durable record of one node visit within an instance.
// Assignees holds the candidate set resolved when the node was entered; an
// empty set means the node is open to any authenticated actor. Rows are
// append-only once closed.
type WorkflowProcess struct {
	BaseModel
	InstanceID  uuid.UUID     `gorm:"type:uuid;column:instance_id;not null;index" json:"instanceId"`
	NodeIndex   int           `gorm:"type:integer;column:node_index;not null" json:"nodeIndex"`
	NodeName    string        `gorm:"type:varchar(255);column:node_name;not null" json:"nodeName"`
	Assignees   StringList    `gorm:"type:jsonb;column:assignees;not null;serializer:json" json:"assignees"`
	AssigneeID  *string       `gorm:"type:varchar(100);column:assignee_id" json:"assigneeId,omitempty"`
	ProcessorID *string       `gorm:"type:varchar(100);column:processor_id" json:"processorId,omitempty"`
	Action      ProcessAction `gorm:"type:varchar(20);column:action;not null;index" json:"action"`
	Comment     string        `gorm:"type:text;column:comment" json:"comment,omitempty"`
	ProcessedAt *time.Time    `gorm:"column:processed_at" json:"processedAt,omitempty"`
}

func (wp *WorkflowProcess) TableName() string {
	return "workflow_processes"
}

// Open reports whether the row is still waiting for a decision.
func (wp *WorkflowProcess) Open() bool {
	return wp.Action == ProcessActionPending
}

// Overdue reports whether an open row has outlived the node's informational
// time limit. Always false for closed rows and nodes without a limit; the
// engine never acts on this, it exists for dashboards and reports.
func (wp *WorkflowProcess) Overdue(node NodeDefinition, now time.Time) bool {
	if !wp.Open() || node.TimeLimitHours <= 0 {
		return false
	}
	return now.Sub(wp.CreatedAt) > time.Duration(node.TimeLimitHours)*time.Hour
}
