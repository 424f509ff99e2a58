package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/happy-code-egg/ruidao-sub004/internal/org"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/router"
	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/service"
)

// eventChannelSize bounds how many undelivered terminal-status events may
// queue before the listener catches up.
const eventChannelSize = 64

// Subscriber receives terminal-status events for one business type. Handlers
// run on the listener goroutine, so they must not block for long.
type Subscriber func(ctx context.Context, event model.WorkflowEventNotification)

// Manager coordinates the workflow services, their HTTP routers, and the
// terminal-status event listener that fans events out to business-module
// subscribers.
type Manager struct {
	templateService *service.TemplateService
	instanceService *service.InstanceService
	templateRouter  *router.TemplateRouter
	instanceRouter  *router.InstanceRouter

	eventCh chan model.WorkflowEventNotification

	mu          sync.RWMutex
	subscribers map[string][]Subscriber

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager wires the full workflow stack on top of the given database
// connection and starts the event listener.
func NewManager(db *gorm.DB, orgService *org.Service) *Manager {
	repo := service.NewGormWorkflowRepository(db)

	resolver := service.NewAssigneeResolver(orgService)
	engine := service.NewAdvancementEngine(repo, repo, resolver)

	eventCh := make(chan model.WorkflowEventNotification, eventChannelSize)
	templateService := service.NewTemplateService(db, repo)
	instanceService := service.NewInstanceService(db, templateService, repo, repo, engine, eventCh)

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		templateService: templateService,
		instanceService: instanceService,
		eventCh:         eventCh,
		subscribers:     make(map[string][]Subscriber),
		ctx:             ctx,
		cancel:          cancel,
	}

	m.templateRouter = router.NewTemplateRouter(templateService)
	m.instanceRouter = router.NewInstanceRouter(instanceService)

	m.startEventListener()

	return m
}

// TemplateService exposes the template service for non-HTTP callers.
func (m *Manager) TemplateService() *service.TemplateService {
	return m.templateService
}

// InstanceService exposes the instance service for non-HTTP callers.
func (m *Manager) InstanceService() *service.InstanceService {
	return m.instanceService
}

// Subscribe registers a handler for terminal-status events of one business
// type. Multiple handlers per business type are invoked in registration
// order.
func (m *Manager) Subscribe(businessType string, fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[businessType] = append(m.subscribers[businessType], fn)
}

// RegisterRoutes mounts the workflow HTTP API onto the given router group.
func (m *Manager) RegisterRoutes(rg *gin.RouterGroup) {
	m.templateRouter.RegisterRoutes(rg)
	m.instanceRouter.RegisterRoutes(rg)
}

// startEventListener starts a goroutine that drains the event channel and
// dispatches each event to the subscribers of its business type.
func (m *Manager) startEventListener() {
	go func() {
		for {
			select {
			case <-m.ctx.Done():
				slog.Info("workflow event listener stopped")
				return
			case event := <-m.eventCh:
				m.dispatch(event)
			}
		}
	}()
}

// StopEventListener stops the terminal-status event listener.
func (m *Manager) StopEventListener() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) dispatch(event model.WorkflowEventNotification) {
	m.mu.RLock()
	handlers := m.subscribers[event.BusinessType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Info("workflow event without subscriber",
			"businessType", event.BusinessType,
			"businessID", event.BusinessID,
			"status", event.Status)
		return
	}

	for _, fn := range handlers {
		fn(m.ctx, event)
	}
	slog.Info("workflow event dispatched",
		"businessType", event.BusinessType,
		"businessID", event.BusinessID,
		"status", event.Status,
		"subscribers", len(handlers))
}
