package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessOverdue(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	node := NodeDefinition{Name: "Review", Type: NodeTypeReview, TimeLimitHours: 24}

	t.Run("open row past the limit", func(t *testing.T) {
		p := WorkflowProcess{
			BaseModel: BaseModel{CreatedAt: now.Add(-25 * time.Hour)},
			Action:    ProcessActionPending,
		}
		assert.True(t, p.Overdue(node, now))
	})

	t.Run("open row within the limit", func(t *testing.T) {
		p := WorkflowProcess{
			BaseModel: BaseModel{CreatedAt: now.Add(-23 * time.Hour)},
			Action:    ProcessActionPending,
		}
		assert.False(t, p.Overdue(node, now))
	})

	t.Run("closed rows are never overdue", func(t *testing.T) {
		p := WorkflowProcess{
			BaseModel: BaseModel{CreatedAt: now.Add(-100 * time.Hour)},
			Action:    ProcessActionApprove,
		}
		assert.False(t, p.Overdue(node, now))
	})

	t.Run("nodes without a limit are never overdue", func(t *testing.T) {
		p := WorkflowProcess{
			BaseModel: BaseModel{CreatedAt: now.Add(-100 * time.Hour)},
			Action:    ProcessActionPending,
		}
		assert.False(t, p.Overdue(NodeDefinition{Name: "Review", Type: NodeTypeReview}, now))
	})
}

func TestNodeAutoCloseable(t *testing.T) {
	assert.True(t, NodeDefinition{Type: NodeTypeStart}.AutoCloseable(nil))
	assert.True(t, NodeDefinition{Type: NodeTypeEnd}.AutoCloseable(StringList{}))
	assert.False(t, NodeDefinition{Type: NodeTypeStart}.AutoCloseable(StringList{"erin"}))
	assert.False(t, NodeDefinition{Type: NodeTypeReview}.AutoCloseable(nil))
	assert.False(t, NodeDefinition{Type: NodeTypeConfirm}.AutoCloseable(nil))
}

func TestInstanceCurrentNode(t *testing.T) {
	instance := WorkflowInstance{
		Nodes: NodeList{
			{Name: "Submitted", Type: NodeTypeStart},
			{Name: "Closed", Type: NodeTypeEnd},
		},
		CurrentNodeIndex: 1,
	}

	node, err := instance.CurrentNode()
	assert.NoError(t, err)
	assert.Equal(t, "Closed", node.Name)

	instance.CurrentNodeIndex = 2
	_, err = instance.CurrentNode()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestInstanceStatusTerminal(t *testing.T) {
	assert.False(t, InstanceStatusPending.Terminal())
	assert.True(t, InstanceStatusCompleted.Terminal())
	assert.True(t, InstanceStatusRejected.Terminal())
	assert.True(t, InstanceStatusCancelled.Terminal())
}
