package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskgate/internal/config"
	"github.com/imkarma/taskgate/internal/lifecycle"
	"github.com/imkarma/taskgate/internal/store"
)

var (
	initAdmin  string
	initDriver string
	initDSN    string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize taskgate in the current directory",
	Long: "Creates a .taskgate/ directory with default config and database, and\n" +
		"bootstraps the first ADMIN account.",
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initAdmin, "admin", "", "Username of the first admin (default: --as, then \"admin\")")
	initCmd.Flags().StringVar(&initDriver, "driver", "", "Database driver: sqlite or pgx")
	initCmd.Flags().StringVar(&initDSN, "dsn", "", "Database DSN (sqlite path or postgres URL)")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Check if already initialized.
	if _, err := os.Stat(taskgateDirName); err == nil {
		return fmt.Errorf("taskgate already initialized in this directory (%s/ exists)", taskgateDirName)
	}

	if err := os.MkdirAll(taskgateDirName, 0755); err != nil {
		return fmt.Errorf("create %s: %w", taskgateDirName, err)
	}

	cfg := config.DefaultConfig()
	if initDriver != "" {
		cfg.Database.Driver = initDriver
	}
	if initDSN != "" {
		cfg.Database.DSN = initDSN
	}
	path := configPath()
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// Reload so env overrides and validation apply.
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	defer a.Close()

	admin := initAdmin
	if admin == "" {
		admin = actingUser()
	}
	if admin == "" {
		admin = "admin"
	}
	if _, err := a.store.CreateUser(cmd.Context(), store.User{
		Username:    admin,
		DisplayName: "Administrator",
		Roles:       []lifecycle.Role{lifecycle.RoleAdmin},
	}); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Fprintf(out, "Initialized taskgate in %s/ (%s)\n", taskgateDirName, cfg.Database.Driver)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. export %s=%s\n", envUser, admin)
	fmt.Fprintln(out, "  2. Run: taskgate user add <name> --roles team-member")
	fmt.Fprintln(out, "  3. Run: taskgate task create \"your first task\"")
	fmt.Fprintln(out, "  4. Run: taskgate board")
	return nil
}
