/*
main.go - Application entry point

PURPOSE:
  Command-line front end for the cost ledger. The serve command runs the
  HTTP API; the other commands operate on the same database offline.

COMMANDS:
  serve         Start the HTTP API server
  recalculate   Rebuild financial snapshots for a project or a single code
  version       Print the build version

CONFIGURATION:
  --config points at an optional YAML file. Environment variables
  (COSTLEDGER_*) and a local .env file override it; command flags override
  everything. See config/config.go.

EXAMPLES:
  # Run with file database
  costledger serve --db ./data/costledger.db

  # Run with in-memory database and demo master data
  costledger serve --db ":memory:" --masterdata ./masterdata.yaml

  # Rebuild every snapshot of a project
  costledger recalculate --db ./data/costledger.db --project P-001

SEE ALSO:
  - serve.go: Server startup and graceful shutdown
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitebooks/costledger/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBDriver   string
	DBDSN      string
	LogLevel   string
}

// load reads the configuration and applies flag overrides.
func (o *RootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if o.DBDriver != "" {
		cfg.Database.Driver = o.DBDriver
	}
	if o.DBDSN != "" {
		cfg.Database.DSN = o.DBDSN
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	return cfg, cfg.Validate()
}

// NewRootCommand creates the root command for the costledger CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "costledger",
		Short: "Derived financial state engine for construction projects",
		Long: `Keeps committed, certified, paid and retained figures per project and
cost code in step with work orders, payment certificates and payments.`,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBDriver, "driver", "", "database driver (sqlite3|postgres)")
	cmd.PersistentFlags().StringVar(&opts.DBDSN, "db", "", "database DSN or SQLite path")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRecalculateCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
