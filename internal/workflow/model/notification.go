package model

import "github.com/google/uuid"

// WorkflowEventNotification is emitted on the manager's channel whenever an
// instance reaches a terminal status. Domain collaborators subscribe per
// business type to flip their own records; the engine never mutates business
// tables itself.
type WorkflowEventNotification struct {
	InstanceID    uuid.UUID
	BusinessType  string
	BusinessID    string
	BusinessTitle string
	Status        InstanceStatus
}
