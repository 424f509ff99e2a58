package model

import (
	"fmt"

	"github.com/google/uuid"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
// Transitions are monotonic: pending is the only non-terminal state.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusRejected  InstanceStatus = "rejected"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s != InstanceStatusPending
}

// Decision is an approver's verdict on a pending node.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether the decision is one of the accepted verdicts.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// WorkflowInstance is one running execution of a template against one
// business record. Nodes is a snapshot of the template's node list taken at
// start time, so in-flight instances are immune to later template edits.
type WorkflowInstance struct {
	BaseModel
	WorkflowID       uuid.UUID      `gorm:"type:uuid;column:workflow_id;not null;index" json:"workflowId"`
	Nodes            NodeList       `gorm:"type:jsonb;column:nodes;not null;serializer:json" json:"nodes"`
	BusinessType     string         `gorm:"type:varchar(50);column:business_type;not null;index" json:"businessType"`
	BusinessID       string         `gorm:"type:varchar(100);column:business_id;not null" json:"businessId"`
	BusinessTitle    string         `gorm:"type:varchar(255);column:business_title" json:"businessTitle"`
	CurrentNodeIndex int            `gorm:"type:integer;column:current_node_index;not null" json:"currentNodeIndex"`
	Status           InstanceStatus `gorm:"type:varchar(20);column:status;not null;index" json:"status"`
	CreatedBy        string         `gorm:"type:varchar(100);column:created_by;not null" json:"createdBy"`
}

func (wi *WorkflowInstance) TableName() string {
	return "workflow_instances"
}

// CurrentNode returns the node definition at the instance's current index.
func (wi *WorkflowInstance) CurrentNode() (NodeDefinition, error) {
	if wi.CurrentNodeIndex < 0 || wi.CurrentNodeIndex >= len(wi.Nodes) {
		return NodeDefinition{}, fmt.Errorf("%w: node index %d out of range for %d nodes",
			ErrValidation, wi.CurrentNodeIndex, len(wi.Nodes))
	}
	return wi.Nodes[wi.CurrentNodeIndex], nil
}

// StartInstanceDTO carries the payload to start an approval flow for a
// business record. Either WorkflowCode or CaseType selects the template;
// WorkflowCode wins when both are set.
type StartInstanceDTO struct {
	WorkflowCode  string `json:"workflowCode"`
	CaseType      string `json:"caseType"`
	BusinessType  string `json:"businessType" binding:"required"`
	BusinessID    string `json:"businessId" binding:"required"`
	BusinessTitle string `json:"businessTitle"`
}

// AdvanceDTO carries an approve/reject action on a pending instance.
// NodeIndex is the node the approver saw when deciding. It must still be the
// instance's current index once the row lock is held; a mismatch means the
// node was decided by someone else in the meantime and the call fails with
// ErrInvalidState instead of applying to a later node.
type AdvanceDTO struct {
	Decision  Decision `json:"decision" binding:"required"`
	Comment   string   `json:"comment"`
	NodeIndex *int     `json:"nodeIndex" binding:"required"`
}

// InstanceDetailDTO is the read model for a single instance, including its
// full node-visit history.
type InstanceDetailDTO struct {
	Instance  WorkflowInstance  `json:"instance"`
	Processes []WorkflowProcess `json:"processes"`
}

// PendingApprovalDTO is one "waiting on me" dashboard entry.
type PendingApprovalDTO struct {
	ProcessID     uuid.UUID `json:"processId"`
	InstanceID    uuid.UUID `json:"instanceId"`
	NodeIndex     int       `json:"nodeIndex"`
	NodeName      string    `json:"nodeName"`
	BusinessType  string    `json:"businessType"`
	BusinessID    string    `json:"businessId"`
	BusinessTitle string    `json:"businessTitle"`
	CreatedBy     string    `json:"createdBy"`
	WaitingSince  string    `json:"waitingSince"`
}
