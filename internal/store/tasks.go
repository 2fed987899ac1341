package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// Task priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

func normalizePriority(p string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return strings.ToLower(strings.TrimSpace(p)), nil
	default:
		return "", fmt.Errorf("unknown priority %q (high, medium, low)", p)
	}
}

// CreateTask inserts a task in its initial state and records the creation
// in history, both in one transaction.
func (s *Store) CreateTask(ctx context.Context, actor string, nt NewTask) (*Task, error) {
	title := strings.TrimSpace(nt.Title)
	if title == "" {
		return nil, errors.New("task title is required")
	}
	priority, err := normalizePriority(nt.Priority)
	if err != nil {
		return nil, err
	}
	now := s.now()
	state := lifecycle.InitialState(lifecycle.KindTask)

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if nt.ProjectID != nil {
			var n int
			err := s.queryRow(ctx, tx,
				`SELECT COUNT(*) FROM projects WHERE id = ? AND active = 1`, *nt.ProjectID).Scan(&n)
			if err != nil {
				return fmt.Errorf("check project: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("project %d: %w", *nt.ProjectID, ErrInvalidReference)
			}
		}
		id, err = s.insertID(ctx, tx,
			`INSERT INTO tasks (project_id, title, description, priority, assignee, state, version, active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 1, 1, ?, ?)`,
			nullInt64(nt.ProjectID), title, nt.Description, priority, nullString(nt.Assignee), string(state),
			now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", classify(err))
		}
		rec := lifecycle.CreationRecord(lifecycle.TaskRef(id), actor, now)
		_, err = s.appendHistory(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Task{
		ID:          id,
		ProjectID:   nt.ProjectID,
		Title:       title,
		Description: nt.Description,
		Priority:    priority,
		Assignee:    nt.Assignee,
		State:       state,
		Version:     1,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// taskColumns is the standard column list for task queries.
const taskColumns = `id, project_id, title, description, priority, COALESCE(assignee, ''), state, version, active, created_at, updated_at`

// GetTask returns a task by ID, active or not.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks matching f ordered by ID.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var where []string
	var args []any
	if !f.IncludeInactive {
		where = append(where, `active = 1`)
	}
	if f.ProjectID != 0 {
		where = append(where, `project_id = ?`)
		args = append(args, f.ProjectID)
	}
	if f.State != "" {
		where = append(where, `state = ?`)
		args = append(args, string(f.State))
	}
	if f.Assignee != "" {
		where = append(where, `assignee = ?`)
		args = append(args, f.Assignee)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// AssignTask sets the task's designated owner. An empty username clears it.
// The version is left alone: assignment is not a state change.
func (s *Store) AssignTask(ctx context.Context, id int64, assignee string) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE tasks SET assignee = ?, updated_at = ? WHERE id = ? AND active = 1`,
		nullString(assignee), s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("assign task: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeactivateTask soft-deletes a task. Its state and history are kept.
func (s *Store) DeactivateTask(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE tasks SET active = 0, updated_at = ? WHERE id = ? AND active = 1`,
		s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("deactivate task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountTasksByState returns how many active tasks sit in each state.
func (s *Store) CountTasksByState(ctx context.Context) (map[lifecycle.State]int, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT state, COUNT(*) FROM tasks WHERE active = 1 GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[lifecycle.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[lifecycle.State(state)] = n
	}
	return counts, rows.Err()
}

func scanTask(sc scanner) (*Task, error) {
	var t Task
	var project sql.NullInt64
	var state string
	var active int
	var created, updated int64
	if err := sc.Scan(&t.ID, &project, &t.Title, &t.Description, &t.Priority, &t.Assignee,
		&state, &t.Version, &active, &created, &updated); err != nil {
		return nil, err
	}
	t.ProjectID = ptrInt64(project)
	t.State = lifecycle.State(state)
	t.Active = active == 1
	t.CreatedAt = unixTime(created)
	t.UpdatedAt = unixTime(updated)
	return &t, nil
}
