package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedUser creates an active user with the given roles.
func seedUser(t *testing.T, s *Store, name string, roles ...lifecycle.Role) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), User{Username: name, Roles: roles})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", name, err)
	}
	return u
}

func TestNew_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file not created")
	}
	if s.Driver() != DriverSQLite {
		t.Errorf("expected sqlite driver, got %s", s.Driver())
	}
}

func TestNew_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.CreateTask(ctx, "root", NewTask{Title: "survives"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	task, err := s.GetTask(ctx, 1)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Title != "survives" {
		t.Errorf("expected title 'survives', got %q", task.Title)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql", DSN: "x"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	_, err = Open(context.Background(), Options{Driver: DriverSQLite})
	if err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestRebind(t *testing.T) {
	pg, _ := dialectFor(DriverPostgres)
	got := pg.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`)
	if got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Errorf("unexpected rebind: %s", got)
	}
	lite, _ := dialectFor(DriverSQLite)
	if q := lite.rebind(`x = ?`); q != `x = ?` {
		t.Errorf("sqlite query must not change, got %s", q)
	}
}

func TestCreateTask(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "lena", NewTask{Title: "Test task", Description: "A description", Priority: "HIGH"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if task.ID != 1 {
		t.Errorf("expected ID 1, got %d", task.ID)
	}
	if task.State != lifecycle.TaskBacklog {
		t.Errorf("expected state BACKLOG, got %s", task.State)
	}
	if task.Priority != PriorityHigh {
		t.Errorf("expected priority high, got %s", task.Priority)
	}
	if task.Version != 1 {
		t.Errorf("expected version 1, got %d", task.Version)
	}

	recs, err := s.EntityHistory(ctx, task.Ref())
	if err != nil {
		t.Fatalf("EntityHistory: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 creation record, got %d", len(recs))
	}
	if !recs[0].IsCreation() || recs[0].NewState != lifecycle.TaskBacklog || recs[0].Actor != "lena" {
		t.Errorf("unexpected creation record: %+v", recs[0])
	}
	if recs[0].ID == "" {
		t.Error("expected history id")
	}
}

func TestCreateTask_Validation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, "root", NewTask{Title: "  "}); err == nil {
		t.Error("expected error for empty title")
	}
	if _, err := s.CreateTask(ctx, "root", NewTask{Title: "x", Priority: "urgent"}); err == nil {
		t.Error("expected error for unknown priority")
	}
	missing := int64(42)
	_, err := s.CreateTask(ctx, "root", NewTask{Title: "x", ProjectID: &missing})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}
	_, err = s.CreateTask(ctx, "root", NewTask{Title: "x", Assignee: "ghost"})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference for unknown assignee, got %v", err)
	}

	// Nothing half-written.
	recs, err := lifecycle.CollectHistory(s.QueryHistory(ctx, lifecycle.HistoryFilter{}))
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty history, got %d records", len(recs))
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetTask(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTasks_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedUser(t, s, "max", lifecycle.RoleTeamMember)

	p, err := s.CreateProject(ctx, "pia", NewProject{Name: "Apollo"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	s.CreateTask(ctx, "pia", NewTask{Title: "A", ProjectID: &p.ID, Assignee: "max"})
	s.CreateTask(ctx, "pia", NewTask{Title: "B", ProjectID: &p.ID})
	s.CreateTask(ctx, "pia", NewTask{Title: "C"})

	all, err := s.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(all))
	}

	inProject, _ := s.ListTasks(ctx, TaskFilter{ProjectID: p.ID})
	if len(inProject) != 2 {
		t.Errorf("expected 2 project tasks, got %d", len(inProject))
	}

	mine, _ := s.ListTasks(ctx, TaskFilter{Assignee: "max"})
	if len(mine) != 1 || mine[0].Title != "A" {
		t.Errorf("expected task A for max, got %+v", mine)
	}

	if err := s.DeactivateTask(ctx, mine[0].ID); err != nil {
		t.Fatalf("DeactivateTask: %v", err)
	}
	active, _ := s.ListTasks(ctx, TaskFilter{ProjectID: p.ID})
	if len(active) != 1 {
		t.Errorf("expected 1 active project task, got %d", len(active))
	}
	withInactive, _ := s.ListTasks(ctx, TaskFilter{ProjectID: p.ID, IncludeInactive: true})
	if len(withInactive) != 2 {
		t.Errorf("expected 2 tasks including inactive, got %d", len(withInactive))
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.TaskCount != 1 {
		t.Errorf("expected task count 1, got %d", got.TaskCount)
	}
}

func TestAssignTask(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedUser(t, s, "max", lifecycle.RoleTeamMember)

	task, _ := s.CreateTask(ctx, "root", NewTask{Title: "Assign me"})
	if err := s.AssignTask(ctx, task.ID, "max"); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	snap, err := s.LoadState(ctx, task.Ref())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if snap.Owner != "max" {
		t.Errorf("expected owner max, got %q", snap.Owner)
	}
	if snap.Version != 1 {
		t.Errorf("assignment must not bump the version, got %d", snap.Version)
	}

	if err := s.AssignTask(ctx, task.ID, ""); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	snap, _ = s.LoadState(ctx, task.Ref())
	if snap.Owner != "" {
		t.Errorf("expected no owner, got %q", snap.Owner)
	}

	if err := s.AssignTask(ctx, 999, "max"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadState_InactiveIsNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "root", NewTask{Title: "gone"})
	if err := s.DeactivateTask(ctx, task.ID); err != nil {
		t.Fatalf("DeactivateTask: %v", err)
	}
	if _, err := s.LoadState(ctx, task.Ref()); !errors.Is(err, lifecycle.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if _, err := s.LoadState(ctx, lifecycle.ProjectRef(7)); !errors.Is(err, lifecycle.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if err := s.DeactivateTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second deactivate should be ErrNotFound, got %v", err)
	}
}

func TestWriteState_VersionConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, "root", NewTask{Title: "cas"})

	err := s.Atomically(ctx, func(ctx context.Context, uow lifecycle.UnitOfWork) error {
		return uow.WriteState(ctx, task.Ref(), lifecycle.TaskInAnalysis, 1)
	})
	if err != nil {
		t.Fatalf("first write: %v", err)
	}

	err = s.Atomically(ctx, func(ctx context.Context, uow lifecycle.UnitOfWork) error {
		return uow.WriteState(ctx, task.Ref(), lifecycle.TaskInProgress, 1)
	})
	if !errors.Is(err, lifecycle.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	snap, _ := s.LoadState(ctx, task.Ref())
	if snap.State != lifecycle.TaskInAnalysis || snap.Version != 2 {
		t.Errorf("expected IN_ANALYSIS v2, got %s v%d", snap.State, snap.Version)
	}
}

func TestAtomically_RollsBackOnError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, "root", NewTask{Title: "rollback"})
	boom := errors.New("boom")

	err := s.Atomically(ctx, func(ctx context.Context, uow lifecycle.UnitOfWork) error {
		if err := uow.WriteState(ctx, task.Ref(), lifecycle.TaskInAnalysis, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	snap, _ := s.LoadState(ctx, task.Ref())
	if snap.State != lifecycle.TaskBacklog || snap.Version != 1 {
		t.Errorf("expected BACKLOG v1 after rollback, got %s v%d", snap.State, snap.Version)
	}
}

func TestAtomically_CancelledContextWritesNothing(t *testing.T) {
	s := testStore(t)
	task, _ := s.CreateTask(context.Background(), "root", NewTask{Title: "cancel"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Atomically(ctx, func(ctx context.Context, uow lifecycle.UnitOfWork) error {
		return uow.WriteState(ctx, task.Ref(), lifecycle.TaskInAnalysis, 1)
	})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}

	snap, _ := s.LoadState(context.Background(), task.Ref())
	if snap.State != lifecycle.TaskBacklog {
		t.Errorf("expected BACKLOG, got %s", snap.State)
	}
}

func TestHistory_AppendOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.CreateTask(ctx, "root", NewTask{Title: "ledger"})

	if _, err := s.db.ExecContext(ctx, `UPDATE history SET actor = 'mallory'`); err == nil {
		t.Error("expected update on history to fail")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err == nil {
		t.Error("expected delete on history to fail")
	}

	recs, _ := lifecycle.CollectHistory(s.QueryHistory(ctx, lifecycle.HistoryFilter{}))
	if len(recs) != 1 || recs[0].Actor != "root" {
		t.Errorf("history changed: %+v", recs)
	}
}

func TestDepartments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	eng, err := s.CreateDepartment(ctx, "Engineering")
	if err != nil {
		t.Fatalf("CreateDepartment: %v", err)
	}
	s.CreateDepartment(ctx, "Design")

	if _, err := s.CreateDepartment(ctx, "Engineering"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	depts, err := s.ListDepartments(ctx)
	if err != nil {
		t.Fatalf("ListDepartments: %v", err)
	}
	if len(depts) != 2 || depts[0].Name != "Design" {
		t.Errorf("expected [Design Engineering], got %+v", depts)
	}

	got, err := s.GetDepartment(ctx, eng.ID)
	if err != nil || got.Name != "Engineering" {
		t.Errorf("GetDepartment: %+v %v", got, err)
	}
	if _, err := s.GetDepartment(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUsers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	dept, _ := s.CreateDepartment(ctx, "Engineering")
	u, err := s.CreateUser(ctx, User{
		Username:     "lena",
		DisplayName:  "Lena",
		DepartmentID: &dept.ID,
		Roles:        []lifecycle.Role{lifecycle.RoleTeamMember, lifecycle.RoleTeamLeader, lifecycle.RoleTeamMember},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(u.Roles) != 2 {
		t.Errorf("expected duplicate roles collapsed, got %v", u.Roles)
	}

	if _, err := s.CreateUser(ctx, User{Username: "lena"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.CreateUser(ctx, User{Username: "bad", Roles: []lifecycle.Role{"JANITOR"}}); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := s.GetUser(ctx, "bad"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed create must not leave the user behind, got %v", err)
	}

	got, err := s.GetUser(ctx, "lena")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	p := got.Principal()
	if p.Identity != "lena" || !p.Roles.Has(lifecycle.RoleTeamLeader) {
		t.Errorf("unexpected principal: %+v", p)
	}
	if got.DepartmentID == nil || *got.DepartmentID != dept.ID {
		t.Errorf("expected department %d, got %v", dept.ID, got.DepartmentID)
	}

	if err := s.SetRoles(ctx, "lena", []lifecycle.Role{lifecycle.RoleAdmin}); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	if err := s.RenameUser(ctx, "lena", "Lena K."); err != nil {
		t.Fatalf("RenameUser: %v", err)
	}
	got, _ = s.GetUser(ctx, "lena")
	if len(got.Roles) != 1 || got.Roles[0] != lifecycle.RoleAdmin {
		t.Errorf("expected [ADMIN], got %v", got.Roles)
	}
	if got.DisplayName != "Lena K." {
		t.Errorf("expected renamed display name, got %q", got.DisplayName)
	}

	seedUser(t, s, "max", lifecycle.RoleTeamMember)
	if err := s.DeactivateUser(ctx, "max"); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	active, _ := s.ListUsers(ctx, false)
	if len(active) != 1 || active[0].Username != "lena" {
		t.Errorf("expected only lena active, got %+v", active)
	}
	all, _ := s.ListUsers(ctx, true)
	if len(all) != 2 || all[1].Roles[0] != lifecycle.RoleTeamMember {
		t.Errorf("expected both users with roles, got %+v", all)
	}

	if err := s.SetRoles(ctx, "ghost", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProjects(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seedUser(t, s, "pia", lifecycle.RoleProjectManager)
	dept, _ := s.CreateDepartment(ctx, "Ops")

	p, err := s.CreateProject(ctx, "pia", NewProject{Name: "Apollo", DepartmentID: &dept.ID, Manager: "pia"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.State != lifecycle.ProjectPending {
		t.Errorf("expected PENDING, got %s", p.State)
	}
	s.CreateProject(ctx, "pia", NewProject{Name: "Zeus"})

	inDept, _ := s.ListProjects(ctx, ProjectFilter{DepartmentID: dept.ID})
	if len(inDept) != 1 || inDept[0].Name != "Apollo" {
		t.Errorf("expected Apollo in Ops, got %+v", inDept)
	}
	managed, _ := s.ListProjects(ctx, ProjectFilter{Manager: "pia"})
	if len(managed) != 1 {
		t.Errorf("expected 1 managed project, got %d", len(managed))
	}

	snap, err := s.LoadState(ctx, p.Ref())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if snap.Owner != "pia" {
		t.Errorf("expected owner pia, got %q", snap.Owner)
	}

	if err := s.SetProjectManager(ctx, p.ID, "nobody"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}

	if err := s.DeactivateProject(ctx, p.ID); err != nil {
		t.Fatalf("DeactivateProject: %v", err)
	}
	rest, _ := s.ListProjects(ctx, ProjectFilter{})
	if len(rest) != 1 || rest[0].Name != "Zeus" {
		t.Errorf("expected only Zeus active, got %+v", rest)
	}
	if _, err := s.CreateTask(ctx, "pia", NewTask{Title: "late", ProjectID: &p.ID}); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("tasks cannot join an inactive project, got %v", err)
	}
}

func TestCountTasksByState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		s.CreateTask(ctx, "root", NewTask{Title: title})
	}
	s.Atomically(ctx, func(ctx context.Context, uow lifecycle.UnitOfWork) error {
		return uow.WriteState(ctx, lifecycle.TaskRef(1), lifecycle.TaskInAnalysis, 1)
	})

	counts, err := s.CountTasksByState(ctx)
	if err != nil {
		t.Fatalf("CountTasksByState: %v", err)
	}
	if counts[lifecycle.TaskBacklog] != 2 || counts[lifecycle.TaskInAnalysis] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
