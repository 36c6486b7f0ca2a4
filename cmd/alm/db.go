package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/almanac/internal/config"
	"github.com/zulandar/almanac/internal/db"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBResetCmd())
	cmd.AddCommand(newDBStatsCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database and record table",
		Long: `Creates the MySQL database if needed and migrates the record table.
SQLite stores are migrated on open; file and S3 stores need no migration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// openDatabase connects to the configured database, creating a MySQL
// database first when create is set.
func openDatabase(out io.Writer, cfg *config.Config, create bool) (*gorm.DB, error) {
	switch cfg.Store.Driver {
	case "mysql":
		my := cfg.Store.MySQL
		if create {
			adminDB, err := db.ConnectAdmin(my)
			if err != nil {
				return nil, fmt.Errorf("connect to MySQL at %s:%d: %w", my.Host, my.Port, err)
			}
			if err := db.CreateDatabase(adminDB, my.Database); err != nil {
				return nil, err
			}
			fmt.Fprintf(out, "Database %s ready\n", my.Database)
		}
		return db.Connect(my)
	case "sqlite":
		return db.ConnectSQLite(cfg.Store.Path)
	default:
		return nil, nil
	}
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := openDatabase(out, cfg, true)
	if err != nil {
		return err
	}
	if gormDB == nil {
		fmt.Fprintf(out, "The %s store needs no migration.\n", cfg.Store.Driver)
		return nil
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-create the record table",
		Long: `Drops every Almanac table and migrates it again. All drafts, published
variables, history and notifications are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := openDatabase(out, cfg, false)
	if err != nil {
		return err
	}
	if gormDB == nil {
		return fmt.Errorf("db reset: the %s store is not a database", cfg.Store.Driver)
	}

	if !skipConfirm {
		if f, ok := cmd.InOrStdin().(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			return fmt.Errorf("db reset: refusing to prompt on a non-interactive input, pass --yes")
		}
		if !confirmReset(cmd, cfg.Store.Driver) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := db.ResetTables(gormDB); err != nil {
		return err
	}
	fmt.Fprintln(out, "Database reset successfully.")
	return nil
}

func confirmReset(cmd *cobra.Command, driver string) bool {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "WARNING: This will permanently delete all Almanac records in the %s store.\n", driver)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}

func newDBStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count stored records by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBStats(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBStats(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := openDatabase(out, cfg, false)
	if err != nil {
		return err
	}
	if gormDB == nil {
		return fmt.Errorf("db stats: the %s store is not a database", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "sqlite" {
		if err := db.AutoMigrate(gormDB); err != nil {
			return err
		}
	}

	counts, err := db.CountRecords(gormDB)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Fprintln(out, "No records found.")
		return nil
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tRECORDS")
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
	w.Flush()
	return nil
}
