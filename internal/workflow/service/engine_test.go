package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
)

// MockInstanceRepository is a mock implementation of InstanceRepository
type MockInstanceRepository struct {
	mock.Mock
}

func (m *MockInstanceRepository) CreateInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) error {
	args := m.Called(ctx, tx, instance)
	return args.Error(0)
}

func (m *MockInstanceRepository) GetInstanceByID(ctx context.Context, instanceID uuid.UUID) (*model.WorkflowInstance, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkflowInstance), args.Error(1)
}

func (m *MockInstanceRepository) GetInstanceByIDForUpdateInTx(ctx context.Context, tx *gorm.DB, instanceID uuid.UUID) (*model.WorkflowInstance, error) {
	args := m.Called(ctx, tx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkflowInstance), args.Error(1)
}

func (m *MockInstanceRepository) UpdateInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) error {
	args := m.Called(ctx, tx, instance)
	return args.Error(0)
}

func (m *MockInstanceRepository) CountPendingByWorkflowID(ctx context.Context, workflowID uuid.UUID) (int64, error) {
	args := m.Called(ctx, workflowID)
	return args.Get(0).(int64), args.Error(1)
}

// MockProcessRepository is a mock implementation of ProcessRepository
type MockProcessRepository struct {
	mock.Mock
}

func (m *MockProcessRepository) CreateProcessInTx(ctx context.Context, tx *gorm.DB, process *model.WorkflowProcess) error {
	args := m.Called(ctx, tx, process)
	return args.Error(0)
}

func (m *MockProcessRepository) GetOpenProcessInTx(ctx context.Context, tx *gorm.DB, instanceID uuid.UUID, nodeIndex int) (*model.WorkflowProcess, error) {
	args := m.Called(ctx, tx, instanceID, nodeIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkflowProcess), args.Error(1)
}

func (m *MockProcessRepository) UpdateProcessInTx(ctx context.Context, tx *gorm.DB, process *model.WorkflowProcess) error {
	args := m.Called(ctx, tx, process)
	return args.Error(0)
}

func (m *MockProcessRepository) ListProcessesByInstanceID(ctx context.Context, instanceID uuid.UUID) ([]model.WorkflowProcess, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WorkflowProcess), args.Error(1)
}

func (m *MockProcessRepository) ListPendingForUser(ctx context.Context, userID string, offset *int, limit *int) ([]model.PendingApprovalDTO, error) {
	args := m.Called(ctx, userID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PendingApprovalDTO), args.Error(1)
}

// staticResolver applies the fixed-list-then-rule policy without an org
// directory. Rules named "broken" fail to resolve.
type staticResolver struct {
	ruleResults map[string]model.StringList
}

func (r *staticResolver) Resolve(ctx context.Context, node model.NodeDefinition, rctx ResolveContext) (model.StringList, error) {
	if len(node.Assignees) > 0 {
		return node.Assignees, nil
	}
	if node.AssigneeRule != "" {
		result, ok := r.ruleResults[node.AssigneeRule]
		if !ok {
			return nil, fmt.Errorf("cannot resolve rule %q", node.AssigneeRule)
		}
		return result, nil
	}
	return nil, nil
}

func reviewFlowNodes() model.NodeList {
	return model.NodeList{
		{Name: "Submitted", Type: model.NodeTypeStart},
		{Name: "Supervisor Review", Type: model.NodeTypeReview, Assignees: model.StringList{"alice"}, Required: true, TimeLimitHours: 24},
		{Name: "Filing Confirmation", Type: model.NodeTypeConfirm, Assignees: model.StringList{"bob", "carol"}, Required: true, TimeLimitHours: 48},
		{Name: "Closed", Type: model.NodeTypeEnd},
	}
}

func pendingInstance(nodes model.NodeList, index int) *model.WorkflowInstance {
	return &model.WorkflowInstance{
		BaseModel:        model.BaseModel{ID: uuid.New()},
		WorkflowID:       uuid.New(),
		Nodes:            nodes,
		BusinessType:     "patent_application",
		BusinessID:       "PA-2026-0042",
		BusinessTitle:    "Utility patent filing",
		CurrentNodeIndex: index,
		Status:           model.InstanceStatusPending,
		CreatedBy:        "dave",
	}
}

func idx(i int) *int {
	return &i
}

func newTestEngine(resolver AssigneeResolver) (*AdvancementEngine, *MockInstanceRepository, *MockProcessRepository) {
	instances := new(MockInstanceRepository)
	processes := new(MockProcessRepository)
	if resolver == nil {
		resolver = &staticResolver{}
	}
	return NewAdvancementEngine(instances, processes, resolver), instances, processes
}

func TestEngineStart(t *testing.T) {
	ctx := context.Background()

	t.Run("auto-closes the start node and opens the first review node", func(t *testing.T) {
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 0)

		var created []model.WorkflowProcess
		processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			created = append(created, *args.Get(2).(*model.WorkflowProcess))
		}).Return(nil)
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		result, err := engine.Start(ctx, nil, instance)

		assert.NoError(t, err)
		assert.Equal(t, model.InstanceStatusPending, instance.Status)
		assert.Equal(t, 1, instance.CurrentNodeIndex)
		assert.Len(t, created, 2)
		assert.Equal(t, model.ProcessActionAuto, created[0].Action)
		assert.NotNil(t, created[0].ProcessedAt)
		assert.Equal(t, model.ProcessActionPending, created[1].Action)
		assert.Equal(t, model.StringList{"alice"}, created[1].Assignees)
		assert.Len(t, result.Opened, 1)
		assert.Nil(t, result.Notification)

		// A single-candidate node records a direct assignee.
		assert.NotNil(t, created[1].AssigneeID)
		assert.Equal(t, "alice", *created[1].AssigneeID)
	})

	t.Run("completes immediately when every node is administrative", func(t *testing.T) {
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(model.NodeList{
			{Name: "Submitted", Type: model.NodeTypeStart},
			{Name: "Closed", Type: model.NodeTypeEnd},
		}, 0)

		processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Return(nil).Twice()
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		result, err := engine.Start(ctx, nil, instance)

		assert.NoError(t, err)
		assert.Equal(t, model.InstanceStatusCompleted, instance.Status)
		assert.Len(t, result.Closed, 2)
		assert.Empty(t, result.Opened)
		assert.NotNil(t, result.Notification)
		assert.Equal(t, model.InstanceStatusCompleted, result.Notification.Status)
	})

	t.Run("rejects a malformed node snapshot", func(t *testing.T) {
		engine, _, _ := newTestEngine(nil)
		instance := pendingInstance(model.NodeList{
			{Name: "Only Node", Type: model.NodeTypeStart},
		}, 0)

		_, err := engine.Start(ctx, nil, instance)
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("start node with assignees stays open for human action", func(t *testing.T) {
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(model.NodeList{
			{Name: "Intake", Type: model.NodeTypeStart, Assignees: model.StringList{"erin"}},
			{Name: "Closed", Type: model.NodeTypeEnd},
		}, 0)

		var created []model.WorkflowProcess
		processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			created = append(created, *args.Get(2).(*model.WorkflowProcess))
		}).Return(nil)
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		_, err := engine.Start(ctx, nil, instance)

		assert.NoError(t, err)
		assert.Equal(t, 0, instance.CurrentNodeIndex)
		assert.Len(t, created, 1)
		assert.Equal(t, model.ProcessActionPending, created[0].Action)
	})
}

func TestEngineAdvance(t *testing.T) {
	ctx := context.Background()

	openRowFor := func(instance *model.WorkflowInstance) *model.WorkflowProcess {
		node := instance.Nodes[instance.CurrentNodeIndex]
		return &model.WorkflowProcess{
			BaseModel:  model.BaseModel{ID: uuid.New()},
			InstanceID: instance.ID,
			NodeIndex:  instance.CurrentNodeIndex,
			NodeName:   node.Name,
			Assignees:  node.Assignees,
			Action:     model.ProcessActionPending,
		}
	}

	t.Run("approval closes the row and opens the next node", func(t *testing.T) {
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 1)
		row := openRowFor(instance)

		processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 1).Return(row, nil)
		processes.On("UpdateProcessInTx", ctx, mock.Anything, row).Return(nil)
		var created []model.WorkflowProcess
		processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			created = append(created, *args.Get(2).(*model.WorkflowProcess))
		}).Return(nil)
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		result, err := engine.Advance(ctx, nil, instance, "alice", &model.AdvanceDTO{
			Decision:  model.DecisionApprove,
			Comment:   "claims look sound",
			NodeIndex: idx(1),
		})

		assert.NoError(t, err)
		assert.Equal(t, model.InstanceStatusPending, instance.Status)
		assert.Equal(t, 2, instance.CurrentNodeIndex)
		assert.Equal(t, model.ProcessActionApprove, row.Action)
		assert.Equal(t, "alice", *row.ProcessorID)
		assert.Equal(t, "claims look sound", row.Comment)
		assert.NotNil(t, row.ProcessedAt)
		assert.Len(t, created, 1)
		assert.Equal(t, model.StringList{"bob", "carol"}, created[0].Assignees)
		assert.Nil(t, created[0].AssigneeID)
		assert.Nil(t, result.Notification)
	})

	t.Run("approving the last human node runs out through the end node", func(t *testing.T) {
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 2)
		row := openRowFor(instance)

		processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 2).Return(row, nil)
		processes.On("UpdateProcessInTx", ctx, mock.Anything, row).Return(nil)
		processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Return(nil)
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		result, err := engine.Advance(ctx, nil, instance, "bob", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(2)})

		assert.NoError(t, err)
		assert.Equal(t, model.InstanceStatusCompleted, instance.Status)
		assert.NotNil(t, result.Notification)
		assert.Equal(t, model.InstanceStatusCompleted, result.Notification.Status)
	})

	t.Run("rejection halts the instance at the current node", func(t *testing.T) {
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 1)
		row := openRowFor(instance)

		processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 1).Return(row, nil)
		processes.On("UpdateProcessInTx", ctx, mock.Anything, row).Return(nil)
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		result, err := engine.Advance(ctx, nil, instance, "alice", &model.AdvanceDTO{
			Decision:  model.DecisionReject,
			Comment:   "missing priority documents",
			NodeIndex: idx(1),
		})

		assert.NoError(t, err)
		assert.Equal(t, model.InstanceStatusRejected, instance.Status)
		assert.Equal(t, 1, instance.CurrentNodeIndex)
		assert.Equal(t, model.ProcessActionReject, row.Action)
		assert.NotNil(t, result.Notification)
		assert.Equal(t, model.InstanceStatusRejected, result.Notification.Status)
		// No further rows open after a rejection.
		processes.AssertNotCalled(t, "CreateProcessInTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("non-assignee cannot act", func(t *testing.T) {
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 1)
		row := openRowFor(instance)

		processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 1).Return(row, nil)

		_, err := engine.Advance(ctx, nil, instance, "mallory", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)})

		assert.ErrorIs(t, err, model.ErrPermissionDenied)
		assert.Contains(t, err.Error(), "not your turn")
		assert.Equal(t, model.ProcessActionPending, row.Action)
		processes.AssertNotCalled(t, "UpdateProcessInTx", mock.Anything, mock.Anything, mock.Anything)
		instances.AssertNotCalled(t, "UpdateInstanceInTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("node without assignees or rule is open to anyone", func(t *testing.T) {
		nodes := model.NodeList{
			{Name: "Submitted", Type: model.NodeTypeStart},
			{Name: "Open Review", Type: model.NodeTypeReview},
			{Name: "Closed", Type: model.NodeTypeEnd},
		}
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(nodes, 1)
		row := openRowFor(instance)

		processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 1).Return(row, nil)
		processes.On("UpdateProcessInTx", ctx, mock.Anything, row).Return(nil)
		processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Return(nil)
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		_, err := engine.Advance(ctx, nil, instance, "anyone-at-all", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)})
		assert.NoError(t, err)
	})

	t.Run("node whose rule resolved to nothing permits nobody", func(t *testing.T) {
		nodes := model.NodeList{
			{Name: "Submitted", Type: model.NodeTypeStart},
			{Name: "Supervisor Review", Type: model.NodeTypeReview, AssigneeRule: "broken"},
			{Name: "Closed", Type: model.NodeTypeEnd},
		}
		engine, _, processes := newTestEngine(nil)
		instance := pendingInstance(nodes, 1)
		row := &model.WorkflowProcess{
			BaseModel:  model.BaseModel{ID: uuid.New()},
			InstanceID: instance.ID,
			NodeIndex:  1,
			NodeName:   "Supervisor Review",
			Assignees:  model.StringList{},
			Action:     model.ProcessActionPending,
		}

		processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 1).Return(row, nil)

		_, err := engine.Advance(ctx, nil, instance, "dave", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)})
		assert.ErrorIs(t, err, model.ErrPermissionDenied)
	})

	t.Run("terminal statuses refuse decisions", func(t *testing.T) {
		engine, _, _ := newTestEngine(nil)

		cancelled := pendingInstance(reviewFlowNodes(), 1)
		cancelled.Status = model.InstanceStatusCancelled
		_, err := engine.Advance(ctx, nil, cancelled, "alice", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)})
		assert.ErrorIs(t, err, model.ErrInvalidState)
		assert.Contains(t, err.Error(), "was cancelled")

		rejected := pendingInstance(reviewFlowNodes(), 1)
		rejected.Status = model.InstanceStatusRejected
		_, err = engine.Advance(ctx, nil, rejected, "alice", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)})
		assert.ErrorIs(t, err, model.ErrInvalidState)
		assert.Contains(t, err.Error(), "already been decided")
	})

	t.Run("stale node index loses the race", func(t *testing.T) {
		engine, _, _ := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 2)

		_, err := engine.Advance(ctx, nil, instance, "alice", &model.AdvanceDTO{
			Decision:  model.DecisionApprove,
			NodeIndex: idx(1),
		})
		assert.ErrorIs(t, err, model.ErrInvalidState)
		assert.Contains(t, err.Error(), "already been decided")
	})

	t.Run("repeated decision cannot fall through onto the successor node", func(t *testing.T) {
		// Two review nodes in a row, both open to anyone. The first approval
		// advances the instance; an identical request still carrying the old
		// index must fail instead of consuming the second node.
		nodes := model.NodeList{
			{Name: "Submitted", Type: model.NodeTypeStart},
			{Name: "First Review", Type: model.NodeTypeReview},
			{Name: "Second Review", Type: model.NodeTypeReview},
			{Name: "Closed", Type: model.NodeTypeEnd},
		}
		engine, instances, processes := newTestEngine(nil)
		instance := pendingInstance(nodes, 1)
		first := openRowFor(instance)
		var second *model.WorkflowProcess

		processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 1).Return(first, nil)
		processes.On("UpdateProcessInTx", ctx, mock.Anything, first).Return(nil)
		processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			second = args.Get(2).(*model.WorkflowProcess)
		}).Return(nil)
		instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

		req := &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)}
		_, err := engine.Advance(ctx, nil, instance, "alice", req)
		assert.NoError(t, err)
		assert.Equal(t, 2, instance.CurrentNodeIndex)

		_, err = engine.Advance(ctx, nil, instance, "alice", req)
		assert.ErrorIs(t, err, model.ErrInvalidState)
		assert.Equal(t, model.InstanceStatusPending, instance.Status)
		assert.Equal(t, 2, instance.CurrentNodeIndex)
		assert.Equal(t, model.ProcessActionPending, second.Action)
		assert.Nil(t, second.ProcessorID)
	})

	t.Run("decision without a node index is rejected", func(t *testing.T) {
		engine, _, _ := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 1)

		_, err := engine.Advance(ctx, nil, instance, "alice", &model.AdvanceDTO{Decision: model.DecisionApprove})
		assert.ErrorIs(t, err, model.ErrValidation)
		assert.Contains(t, err.Error(), "nodeIndex")
	})

	t.Run("invalid decision is rejected up front", func(t *testing.T) {
		engine, _, _ := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 1)

		_, err := engine.Advance(ctx, nil, instance, "alice", &model.AdvanceDTO{Decision: "defer"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("anonymous actor is refused", func(t *testing.T) {
		engine, _, _ := newTestEngine(nil)
		instance := pendingInstance(reviewFlowNodes(), 1)

		_, err := engine.Advance(ctx, nil, instance, "", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)})
		assert.ErrorIs(t, err, model.ErrPermissionDenied)
	})
}

func TestEngineAdvanceFullRoundTrip(t *testing.T) {
	// Walks a four-node flow end to end and checks exactly one row per node
	// was written, with at most one open at any point.
	ctx := context.Background()
	engine, instances, processes := newTestEngine(nil)
	instance := pendingInstance(reviewFlowNodes(), 0)

	store := make(map[int]*model.WorkflowProcess)
	processes.On("CreateProcessInTx", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		p := args.Get(2).(*model.WorkflowProcess)
		_, exists := store[p.NodeIndex]
		assert.False(t, exists, "node %d visited twice", p.NodeIndex)
		store[p.NodeIndex] = p
	}).Return(nil)
	processes.On("UpdateProcessInTx", ctx, mock.Anything, mock.Anything).Return(nil)
	instances.On("UpdateInstanceInTx", ctx, mock.Anything, instance).Return(nil)

	_, err := engine.Start(ctx, nil, instance)
	assert.NoError(t, err)

	processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 1).Return(store[1], nil).Once()
	_, err = engine.Advance(ctx, nil, instance, "alice", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(1)})
	assert.NoError(t, err)

	processes.On("GetOpenProcessInTx", ctx, mock.Anything, instance.ID, 2).Return(store[2], nil).Once()
	_, err = engine.Advance(ctx, nil, instance, "carol", &model.AdvanceDTO{Decision: model.DecisionApprove, NodeIndex: idx(2)})
	assert.NoError(t, err)

	assert.Equal(t, model.InstanceStatusCompleted, instance.Status)
	assert.Len(t, store, len(instance.Nodes))
	open := 0
	for _, p := range store {
		if p.Open() {
			open++
		}
	}
	assert.Zero(t, open, "no rows may remain open after completion")
}
