package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/imkarma/taskgate/internal/config"
	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/logging"
	"github.com/imkarma/taskgate/internal/store"
	"github.com/imkarma/taskgate/internal/worker"
)

const (
	taskgateDirName = ".taskgate"
	envUser         = "TASKGATE_USER"
)

// taskgatePath returns the path to a file inside .taskgate/.
func taskgatePath(parts ...string) string {
	elems := append([]string{taskgateDirName}, parts...)
	return filepath.Join(elems...)
}

func defaultConfigPath() string {
	return taskgatePath("config.yaml")
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return defaultConfigPath()
}

// app bundles everything a command needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	engine *lifecycle.Engine
}

func (a *app) Close() error {
	return a.store.Close()
}

// mustApp loads config and opens the store, returning an error if taskgate
// is not initialized.
func mustApp(ctx context.Context) (*app, error) {
	path := configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("taskgate not initialized. Run: taskgate init")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg)
}

// openApp wires the store, evaluator and engine from cfg.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(ctx, store.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout(),
	})
	if err != nil {
		return nil, err
	}

	engine, err := buildEngine(cfg, s, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: s, engine: engine}, nil
}

func buildEngine(cfg *config.Config, s *store.Store, logger *slog.Logger) (*lifecycle.Engine, error) {
	table := lifecycle.DefaultTable()
	refs, err := cfg.Policy.ReasonRequiredEdges()
	if err != nil {
		return nil, err
	}
	if len(refs) > 0 {
		if table, err = table.WithReasonRequired(refs...); err != nil {
			return nil, fmt.Errorf("policy.require_reason: %w", err)
		}
	}

	opts := []lifecycle.EvaluatorOption{lifecycle.WithLogger(logger)}
	if f := cfg.Policy.OwnershipPolicyFile; f != "" {
		owners, err := lifecycle.LoadCedarOwnership(f, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lifecycle.WithOwnershipOverride(lifecycle.KindTask, owners))
	} else {
		opts = append(opts, lifecycle.WithDefaultOwnership(logger))
	}
	eval, err := lifecycle.NewEvaluator(table, opts...)
	if err != nil {
		return nil, err
	}

	return lifecycle.NewEngine(lifecycle.Config{
		Table:           table,
		Evaluator:       eval,
		Store:           s,
		History:         s,
		Clock:           s.Clock(),
		Logger:          logger,
		ReasonMaxLength: cfg.Policy.ReasonMaxLength,
	})
}

func (a *app) pool() *worker.Pool {
	return worker.NewPool(worker.PoolConfig{
		Engine:     a.engine,
		MaxWorkers: a.cfg.Workers.Parallel,
		MaxRetries: a.cfg.Workers.MaxRetries,
		Backoff:    a.cfg.Workers.Backoff(),
		Logger:     a.logger,
	})
}

// actingUser returns the name given with --as or $TASKGATE_USER.
func actingUser() string {
	if flagAs != "" {
		return flagAs
	}
	return strings.TrimSpace(os.Getenv(envUser))
}

// principal resolves the acting user to an active account and its roles.
func (a *app) principal(ctx context.Context) (lifecycle.Principal, error) {
	name := actingUser()
	if name == "" {
		return lifecycle.Principal{}, fmt.Errorf("no acting user: pass --as <username> or set %s", envUser)
	}
	u, err := a.store.GetUser(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return lifecycle.Principal{}, &lifecycle.Error{
				Code: lifecycle.CodeForbidden, Message: fmt.Sprintf("unknown user %q", name),
			}
		}
		return lifecycle.Principal{}, err
	}
	if !u.Active {
		return lifecycle.Principal{}, &lifecycle.Error{
			Code: lifecycle.CodeForbidden, Message: fmt.Sprintf("user %q is deactivated", name),
		}
	}
	return u.Principal(), nil
}

// requireRole fails unless p holds at least one of roles.
func requireRole(p lifecycle.Principal, action string, roles ...lifecycle.Role) error {
	if p.Roles.Intersects(lifecycle.NewRoleSet(roles...)) {
		return nil
	}
	return &lifecycle.Error{
		Code:    lifecycle.CodeForbidden,
		Message: fmt.Sprintf("%s needs one of [%s] to %s", p.Identity, lifecycle.NewRoleSet(roles...), action),
	}
}

// parseID parses a numeric entity ID, accepting an optional leading '#'.
func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", kind, s)
	}
	return id, nil
}

func parseRoles(s string) ([]lifecycle.Role, error) {
	var roles []lifecycle.Role
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := lifecycle.ParseRole(part)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}

// ErrorLine renders err the way the CLI reports it.
func ErrorLine(err error) string {
	var le *lifecycle.Error
	if errors.As(err, &le) {
		return fmt.Sprintf("error [%s]: %s", le.Code, strings.TrimPrefix(le.Error(), string(le.Code)+": "))
	}
	return "error: " + err.Error()
}
