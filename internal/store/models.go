package store

import (
	"time"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// Department groups users and projects.
type Department struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an account that can act as a principal.
type User struct {
	Username     string           `json:"username"`
	DisplayName  string           `json:"display_name,omitempty"`
	DepartmentID *int64           `json:"department_id,omitempty"`
	Roles        []lifecycle.Role `json:"roles"`
	Active       bool             `json:"active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Principal converts the account into the engine's principal shape.
func (u User) Principal() lifecycle.Principal {
	return lifecycle.Principal{
		Identity: u.Username,
		Roles:    lifecycle.NewRoleSet(u.Roles...),
	}
}

// Project contains tasks and follows the project lifecycle.
type Project struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	DepartmentID *int64          `json:"department_id,omitempty"`
	Manager      string          `json:"manager,omitempty"` // Designated owner
	State        lifecycle.State `json:"state"`
	Version      int64           `json:"version"`
	Active       bool            `json:"active"`
	TaskCount    int             `json:"task_count"` // Derived: active tasks in the project
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Ref addresses the project in the engine.
func (p Project) Ref() lifecycle.Ref { return lifecycle.ProjectRef(p.ID) }

// Task is a unit of work inside a project.
type Task struct {
	ID          int64           `json:"id"`
	ProjectID   *int64          `json:"project_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    string          `json:"priority,omitempty"` // high, medium, low
	Assignee    string          `json:"assignee,omitempty"` // Designated owner
	State       lifecycle.State `json:"state"`
	Version     int64           `json:"version"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Ref addresses the task in the engine.
func (t Task) Ref() lifecycle.Ref { return lifecycle.TaskRef(t.ID) }

// NewTask carries the fields a caller may set when creating a task.
type NewTask struct {
	ProjectID   *int64
	Title       string
	Description string
	Priority    string
	Assignee    string
}

// NewProject carries the fields a caller may set when creating a project.
type NewProject struct {
	Name         string
	Description  string
	DepartmentID *int64
	Manager      string
}

// TaskFilter narrows ListTasks. Zero fields match everything; inactive
// tasks are only returned when IncludeInactive is set.
type TaskFilter struct {
	ProjectID       int64
	State           lifecycle.State
	Assignee        string
	IncludeInactive bool
}

// ProjectFilter narrows ListProjects.
type ProjectFilter struct {
	DepartmentID    int64
	State           lifecycle.State
	Manager         string
	IncludeInactive bool
}
