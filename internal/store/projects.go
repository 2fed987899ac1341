package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// CreateProject inserts a project in its initial state and records the
// creation in history, both in one transaction.
func (s *Store) CreateProject(ctx context.Context, actor string, np NewProject) (*Project, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return nil, errors.New("project name is required")
	}
	now := s.now()
	state := lifecycle.InitialState(lifecycle.KindProject)

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertID(ctx, tx,
			`INSERT INTO projects (name, description, department_id, manager, state, version, active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 1, 1, ?, ?)`,
			name, np.Description, nullInt64(np.DepartmentID), nullString(np.Manager), string(state),
			now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert project: %w", classify(err))
		}
		rec := lifecycle.CreationRecord(lifecycle.ProjectRef(id), actor, now)
		if _, err := s.appendHistory(ctx, tx, rec); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Project{
		ID:           id,
		Name:         name,
		Description:  np.Description,
		DepartmentID: np.DepartmentID,
		Manager:      np.Manager,
		State:        state,
		Version:      1,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// projectColumns is the standard column list for project queries. The
// task count only includes active tasks.
const projectColumns = `p.id, p.name, p.description, p.department_id, COALESCE(p.manager, ''), p.state,
	p.version, p.active, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id AND t.active = 1)`

// GetProject returns a project by ID, active or not.
func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+projectColumns+` FROM projects p WHERE p.id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns projects matching f ordered by ID.
func (s *Store) ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	var where []string
	var args []any
	if !f.IncludeInactive {
		where = append(where, `p.active = 1`)
	}
	if f.DepartmentID != 0 {
		where = append(where, `p.department_id = ?`)
		args = append(args, f.DepartmentID)
	}
	if f.State != "" {
		where = append(where, `p.state = ?`)
		args = append(args, string(f.State))
	}
	if f.Manager != "" {
		where = append(where, `p.manager = ?`)
		args = append(args, f.Manager)
	}

	query := `SELECT ` + projectColumns + ` FROM projects p`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY p.id`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetProjectManager changes the project's designated owner. An empty
// username clears it.
func (s *Store) SetProjectManager(ctx context.Context, id int64, manager string) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE projects SET manager = ?, updated_at = ? WHERE id = ? AND active = 1`,
		nullString(manager), s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("set manager: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeactivateProject soft-deletes a project. Its state and history are kept.
func (s *Store) DeactivateProject(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE projects SET active = 0, updated_at = ? WHERE id = ? AND active = 1`,
		s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("deactivate project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanProject(sc scanner) (*Project, error) {
	var p Project
	var dept sql.NullInt64
	var state string
	var active int
	var created, updated int64
	if err := sc.Scan(&p.ID, &p.Name, &p.Description, &dept, &p.Manager, &state,
		&p.Version, &active, &created, &updated, &p.TaskCount); err != nil {
		return nil, err
	}
	p.DepartmentID = ptrInt64(dept)
	p.State = lifecycle.State(state)
	p.Active = active == 1
	p.CreatedAt = unixTime(created)
	p.UpdatedAt = unixTime(updated)
	return &p, nil
}
