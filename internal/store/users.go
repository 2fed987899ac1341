package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// CreateDepartment inserts a department.
func (s *Store) CreateDepartment(ctx context.Context, name string) (*Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("department name is required")
	}
	now := s.now()
	id, err := s.insertID(ctx, s.db,
		`INSERT INTO departments (name, created_at) VALUES (?, ?)`, name, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert department: %w", classify(err))
	}
	return &Department{ID: id, Name: name, CreatedAt: now}, nil
}

// GetDepartment returns a department by ID.
func (s *Store) GetDepartment(ctx context.Context, id int64) (*Department, error) {
	var d Department
	var created int64
	err := s.queryRow(ctx, s.db,
		`SELECT id, name, created_at FROM departments WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get department: %w", err)
	}
	d.CreatedAt = unixTime(created)
	return &d, nil
}

// ListDepartments returns all departments ordered by name.
func (s *Store) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.query(ctx, s.db, `SELECT id, name, created_at FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	defer rows.Close()

	var out []Department
	for rows.Next() {
		var d Department
		var created int64
		if err := rows.Scan(&d.ID, &d.Name, &created); err != nil {
			return nil, err
		}
		d.CreatedAt = unixTime(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateUser inserts an active account with its roles.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return nil, errors.New("username is required")
	}
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx,
			`INSERT INTO users (username, display_name, department_id, active, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?)`,
			u.Username, u.DisplayName, nullInt64(u.DepartmentID), now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", classify(err))
		}
		return s.writeRoles(ctx, tx, u.Username, u.Roles)
	})
	if err != nil {
		return nil, err
	}
	u.Roles = sortedRoles(u.Roles)
	u.Active = true
	u.CreatedAt, u.UpdatedAt = now, now
	return &u, nil
}

func (s *Store) writeRoles(ctx context.Context, tx *sql.Tx, username string, roles []lifecycle.Role) error {
	if _, err := s.exec(ctx, tx, `DELETE FROM user_roles WHERE username = ?`, username); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	for _, r := range sortedRoles(roles) {
		if _, err := lifecycle.ParseRole(string(r)); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx,
			`INSERT INTO user_roles (username, role) VALUES (?, ?)`, username, string(r)); err != nil {
			return fmt.Errorf("insert role %s: %w", r, classify(err))
		}
	}
	return nil
}

func sortedRoles(roles []lifecycle.Role) []lifecycle.Role {
	return lifecycle.NewRoleSet(roles...).Slice()
}

const userColumns = `username, display_name, department_id, active, created_at, updated_at`

// GetUser returns an account, active or not, with its roles.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	roles, err := s.rolesFor(ctx, []string{u.Username})
	if err != nil {
		return nil, err
	}
	u.Roles = roles[u.Username]
	return u, nil
}

// ListUsers returns accounts ordered by username.
func (s *Store) ListUsers(ctx context.Context, includeInactive bool) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY username`

	rows, err := s.query(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	var users []User
	var names []string
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, *u)
		names = append(names, u.Username)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	roles, err := s.rolesFor(ctx, names)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Roles = roles[users[i].Username]
	}
	return users, nil
}

func (s *Store) rolesFor(ctx context.Context, usernames []string) (map[string][]lifecycle.Role, error) {
	out := make(map[string][]lifecycle.Role, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(usernames)), ", ")
	args := make([]any, len(usernames))
	for i, n := range usernames {
		args[i] = n
	}
	rows, err := s.query(ctx, s.db,
		`SELECT username, role FROM user_roles WHERE username IN (`+placeholders+`) ORDER BY username, role`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, role string
		if err := rows.Scan(&name, &role); err != nil {
			return nil, err
		}
		out[name] = append(out[name], lifecycle.Role(role))
	}
	return out, rows.Err()
}

// SetRoles replaces an account's roles.
func (s *Store) SetRoles(ctx context.Context, username string, roles []lifecycle.Role) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx,
			`UPDATE users SET updated_at = ? WHERE username = ?`, s.now().UnixNano(), username)
		if err != nil {
			return fmt.Errorf("touch user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("user %q: %w", username, ErrNotFound)
		}
		return s.writeRoles(ctx, tx, username, roles)
	})
}

// RenameUser updates an account's display name.
func (s *Store) RenameUser(ctx context.Context, username, displayName string) error {
	return s.updateUser(ctx, username,
		`UPDATE users SET display_name = ?, updated_at = ? WHERE username = ?`,
		displayName, s.now().UnixNano(), username)
}

// DeactivateUser marks an account inactive. Its history is kept.
func (s *Store) DeactivateUser(ctx context.Context, username string) error {
	return s.updateUser(ctx, username,
		`UPDATE users SET active = 0, updated_at = ? WHERE username = ? AND active = 1`,
		s.now().UnixNano(), username)
}

func (s *Store) updateUser(ctx context.Context, username, query string, args ...any) error {
	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*User, error) {
	var u User
	var dept sql.NullInt64
	var active int
	var created, updated int64
	if err := sc.Scan(&u.Username, &u.DisplayName, &dept, &active, &created, &updated); err != nil {
		return nil, err
	}
	u.DepartmentID = ptrInt64(dept)
	u.Active = active == 1
	u.CreatedAt = unixTime(created)
	u.UpdatedAt = unixTime(updated)
	return &u, nil
}
