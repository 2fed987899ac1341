package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imkarma/taskgate/internal/config"
	"github.com/imkarma/taskgate/internal/lifecycle"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// resetFlags puts every flag back to its default; cobra keeps values
// between Execute calls on the same tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var buf bytes.Buffer
	err := ExecuteContext(context.Background(), args, &buf)
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "taskgate %s", strings.Join(args, " "))
	return out
}

// setupWorkspace initializes taskgate in a temp dir with an admin, a team
// leader and a team member.
func setupWorkspace(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv(envUser, "")
	t.Setenv(config.EnvDBDriver, "")
	t.Setenv(config.EnvDBDSN, "")
	t.Setenv(config.EnvLogLevel, "error")

	out := mustRun(t, "init", "--admin", "root")
	require.Contains(t, out, "Initialized taskgate")

	mustRun(t, "--as", "root", "user", "add", "lena", "-r", "team-leader")
	mustRun(t, "--as", "root", "user", "add", "max", "-r", "team-member")
}

func TestCommandsRequireInit(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, "--as", "root", "task", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "taskgate init")
}

func TestInitTwiceFails(t *testing.T) {
	setupWorkspace(t)

	_, err := run(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")
}

func TestTaskLifecycleFlow(t *testing.T) {
	setupWorkspace(t)

	out := mustRun(t, "--as", "lena", "task", "create", "Write", "docs", "-a", "max")
	assert.Contains(t, out, "Created task #1: Write docs")

	// The assignee moves their own task without holding a lead role.
	out = mustRun(t, "--as", "max", "task", "move", "1", "in_analysis")
	assert.Contains(t, out, "Task #1: BACKLOG -> IN_ANALYSIS (as owner)")

	_, err := run(t, "--as", "max", "task", "move", "1", "completed")
	assert.Equal(t, lifecycle.CodeInvalidTransition, lifecycle.ErrorCode(err))

	_, err = run(t, "--as", "lena", "task", "move", "1", "in_analysis")
	assert.Equal(t, lifecycle.CodeNoOpTransition, lifecycle.ErrorCode(err))

	mustRun(t, "--as", "lena", "task", "move", "1", "in_progress")

	_, err = run(t, "--as", "lena", "task", "move", "1", "blocked")
	assert.Equal(t, lifecycle.CodeReasonRequired, lifecycle.ErrorCode(err))
	assert.Contains(t, ErrorLine(err), "error [reason_required]")

	out = mustRun(t, "--as", "lena", "task", "move", "1", "blocked", "-m", "waiting on API keys")
	assert.Contains(t, out, "IN_PROGRESS -> BLOCKED")
	assert.NotContains(t, out, "as owner")

	out = mustRun(t, "history", "--entity", "task#1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "created in BACKLOG by lena")
	assert.Contains(t, lines[1], "BACKLOG -> IN_ANALYSIS by max")
	assert.Contains(t, lines[3], `"waiting on API keys"`)

	out = mustRun(t, "history", "--kind", "task", "--to-state", "blocked")
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out = mustRun(t, "board")
	assert.Contains(t, out, "Blocked tasks")
	assert.Contains(t, out, "waiting on API keys")

	out = mustRun(t, "status")
	assert.Contains(t, out, "Tasks: 1 total")
}

func TestTaskCommandsCheckRoles(t *testing.T) {
	setupWorkspace(t)

	_, err := run(t, "--as", "max", "task", "create", "Sneaky")
	assert.Equal(t, lifecycle.CodeForbidden, lifecycle.ErrorCode(err))

	_, err = run(t, "--as", "nobody", "task", "list", "--mine")
	require.NoError(t, err, "listing does not resolve a principal")

	_, err = run(t, "--as", "nobody", "task", "create", "Ghost")
	assert.Equal(t, lifecycle.CodeForbidden, lifecycle.ErrorCode(err))

	mustRun(t, "--as", "lena", "task", "create", "Unowned")
	_, err = run(t, "--as", "max", "task", "move", "1", "in_analysis")
	assert.Equal(t, lifecycle.CodeForbidden, lifecycle.ErrorCode(err))
}

func TestTaskTargets(t *testing.T) {
	setupWorkspace(t)
	mustRun(t, "--as", "lena", "task", "create", "Plan")

	out := mustRun(t, "--as", "max", "task", "targets", "1")
	assert.Contains(t, out, "Task #1 is BACKLOG (version 1)")
	assert.Contains(t, out, "IN_ANALYSIS")
	assert.NotContains(t, out, "✓")

	out = mustRun(t, "--as", "lena", "task", "targets", "1")
	assert.Contains(t, out, "✓ IN_ANALYSIS")
	assert.Contains(t, out, "✓ CANCELLED")
}

func TestTaskMoveMany(t *testing.T) {
	setupWorkspace(t)
	for _, title := range []string{"One", "Two", "Three"} {
		mustRun(t, "--as", "lena", "task", "create", title)
	}
	mustRun(t, "--as", "lena", "task", "move", "3", "in_analysis")

	out, err := run(t, "--as", "lena", "task", "move-many", "in_analysis", "1", "2", "3")
	require.Error(t, err)
	assert.Contains(t, out, "2 applied, 1 rejected, 0 failed")
	assert.Contains(t, out, "no_op_transition")

	out = mustRun(t, "task", "list", "--state", "in_analysis")
	assert.Equal(t, 3, strings.Count(out, "IN_ANALYSIS"))
}

func TestProjectFlow(t *testing.T) {
	setupWorkspace(t)

	out := mustRun(t, "--as", "root", "project", "create", "Apollo", "--desc", "moon")
	assert.Contains(t, out, "Created project #1: Apollo (manager root)")

	mustRun(t, "--as", "root", "project", "move", "1", "planning")
	mustRun(t, "--as", "root", "project", "move", "1", "in_progress")

	_, err := run(t, "--as", "root", "project", "move", "1", "on_hold")
	assert.Equal(t, lifecycle.CodeReasonRequired, lifecycle.ErrorCode(err))

	mustRun(t, "--as", "root", "project", "move", "1", "on_hold", "-m", "budget review")

	_, err = run(t, "--as", "lena", "project", "move", "1", "archived")
	assert.Equal(t, lifecycle.CodeForbidden, lifecycle.ErrorCode(err))

	mustRun(t, "--as", "root", "project", "move", "1", "archived")
	_, err = run(t, "--as", "root", "project", "move", "1", "planning")
	assert.Equal(t, lifecycle.CodeInvalidTransition, lifecycle.ErrorCode(err))

	out = mustRun(t, "--as", "lena", "task", "create", "Launch", "--project", "1")
	assert.Contains(t, out, "Created task #1")

	out = mustRun(t, "project", "show", "1")
	assert.Contains(t, out, "State:    ARCHIVED")
	assert.Contains(t, out, "Tasks:    1")
	assert.Contains(t, out, `"budget review"`)
}

func TestUserAdministration(t *testing.T) {
	setupWorkspace(t)

	_, err := run(t, "--as", "lena", "user", "add", "eve")
	assert.Equal(t, lifecycle.CodeForbidden, lifecycle.ErrorCode(err))

	mustRun(t, "--as", "root", "user", "roles", "max", "team-member,team-leader")
	mustRun(t, "--as", "max", "task", "create", "Now allowed")

	mustRun(t, "--as", "root", "user", "deactivate", "max")
	_, err = run(t, "--as", "max", "task", "move", "1", "in_analysis")
	assert.Equal(t, lifecycle.CodeForbidden, lifecycle.ErrorCode(err))

	out := mustRun(t, "user", "list")
	assert.Contains(t, out, "lena")
	assert.NotContains(t, out, "max")
}

func TestProjectAssign(t *testing.T) {
	setupWorkspace(t)
	mustRun(t, "--as", "root", "project", "create", "Apollo")

	_, err := run(t, "--as", "lena", "project", "assign", "1", "lena")
	assert.Equal(t, lifecycle.CodeForbidden, lifecycle.ErrorCode(err))

	_, err = run(t, "--as", "root", "project", "assign", "1", "ghost")
	require.Error(t, err)

	out := mustRun(t, "--as", "root", "project", "assign", "1", "lena")
	assert.Contains(t, out, "Project #1 is now managed by lena")

	out = mustRun(t, "project", "show", "1")
	assert.Contains(t, out, "Manager:  lena")

	out = mustRun(t, "project", "list", "--manager", "lena")
	assert.Contains(t, out, "Apollo")

	mustRun(t, "--as", "root", "user", "deactivate", "max")
	_, err = run(t, "--as", "root", "project", "assign", "1", "max")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deactivated")

	_, err = run(t, "--as", "root", "project", "assign", "9", "lena")
	require.Error(t, err)
}

func TestRulesPrintTransitionTable(t *testing.T) {
	setupWorkspace(t)

	out := mustRun(t, "rules", "task")
	assert.Contains(t, out, "Task transitions")
	assert.NotContains(t, out, "Project transitions")
	lines := strings.Split(out, "\n")
	var blocked string
	for _, l := range lines {
		if strings.HasPrefix(l, "IN_PROGRESS") && strings.Contains(l, "BLOCKED") {
			blocked = l
		}
	}
	require.NotEmpty(t, blocked, "IN_PROGRESS -> BLOCKED edge missing:\n%s", out)
	assert.True(t, strings.HasSuffix(blocked, " reason"))

	out = mustRun(t, "rules")
	assert.Contains(t, out, "Task transitions")
	assert.Contains(t, out, "Project transitions")
	assert.Contains(t, out, "ARCHIVED")

	_, err := run(t, "rules", "sprint")
	require.Error(t, err)
}
