// Package workspace contains the board and task entities that commands mutate.
// Only the fields the policy core consumes are modelled here.
package workspace

import (
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
)

// Entity kinds used as store names.
const (
	KindTask  = "task"
	KindBoard = "board"
)

// SourceType records where a task came from.
type SourceType string

const (
	SourceManual SourceType = "MANUAL"
	SourceJira   SourceType = "JIRA"
	SourceEmail  SourceType = "EMAIL"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusDone     Status = "DONE"
	StatusArchived Status = "ARCHIVED"
)

// Source identifies the origin of a task.
type Source struct {
	Type       SourceType `json:"type" msgpack:"type" validate:"required,oneof=MANUAL JIRA EMAIL"`
	ExternalID string     `json:"external_id,omitempty" msgpack:"external_id"`
}

// Task is a unit of work on a board.
type Task struct {
	ID        string    `json:"id" msgpack:"id" validate:"required"`
	TenantID  string    `json:"tenant_id" msgpack:"tenant_id" validate:"required"`
	BoardID   string    `json:"board_id" msgpack:"board_id" validate:"required"`
	Title     string    `json:"title" msgpack:"title" validate:"required,max=500"`
	Source    Source    `json:"source" msgpack:"source"`
	Status    Status    `json:"status" msgpack:"status" validate:"required,oneof=OPEN DONE ARCHIVED"`
	Version   int       `json:"version" msgpack:"version" validate:"min=1"`
	CreatedBy string    `json:"created_by" msgpack:"created_by" validate:"required"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// EntityID implements tenant.Entity.
func (t Task) EntityID() string { return t.ID }

// EntityTenant implements tenant.Entity.
func (t Task) EntityTenant() string { return t.TenantID }

// EntityScope implements tenant.Entity. Tasks are scoped by board.
func (t Task) EntityScope() tenant.Selector {
	return tenant.Selector{Type: "BOARD", ID: t.BoardID}
}

// Board groups tasks within a project.
type Board struct {
	ID        string `json:"id" msgpack:"id" validate:"required"`
	TenantID  string `json:"tenant_id" msgpack:"tenant_id" validate:"required"`
	ProjectID string `json:"project_id" msgpack:"project_id" validate:"required"`
	Name      string `json:"name" msgpack:"name" validate:"required"`
}

// EntityID implements tenant.Entity.
func (b Board) EntityID() string { return b.ID }

// EntityTenant implements tenant.Entity.
func (b Board) EntityTenant() string { return b.TenantID }

// EntityScope implements tenant.Entity. Boards are scoped by project.
func (b Board) EntityScope() tenant.Selector {
	return tenant.Selector{Type: "PROJECT", ID: b.ProjectID}
}

// BoardSelector selects the tasks of one board.
func BoardSelector(boardID string) tenant.Selector {
	return tenant.Selector{Type: "BOARD", ID: boardID}
}

// ProjectSelector selects the boards of one project.
func ProjectSelector(projectID string) tenant.Selector {
	return tenant.Selector{Type: "PROJECT", ID: projectID}
}
