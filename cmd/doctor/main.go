// Command doctor is the Archivio self-diagnostic CLI. It wires the engine's
// checkers against the application's database and data directories and
// exposes three subcommands: diagnose, fix and stats.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/archivio/doctor/internal/audit"
	"github.com/archivio/doctor/internal/cli"
	"github.com/archivio/doctor/internal/config"
	"github.com/archivio/doctor/internal/diagnostics"
	"github.com/archivio/doctor/internal/logging"
)

var (
	flagConfig     string
	flagOutput     string
	flagVerbose    bool
	flagTimeout    time.Duration
	flagComponents []string
	flagYes        bool
)

func main() {
	root := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose and repair Archivio's internal subsystems",
		Long: `doctor inspects the health of Archivio's storage, search index,
filesystem, configuration and process resources, reports structured
findings, and can apply bounded automatic fixes.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "engine config file")
	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "output format: table, json, yaml")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 2*time.Minute, "overall run timeout")
	root.PersistentFlags().StringSliceVar(&flagComponents, "component", nil, "limit to named components (repeatable)")

	diagnose := &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostics and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := buildService()
			if err != nil {
				return err
			}
			defer cleanup()
			return cli.RunDiagnose(cmd.Context(), svc, flagComponents, flagTimeout, flagOutput, flagVerbose, os.Stdout)
		},
	}

	fix := &cobra.Command{
		Use:   "fix",
		Short: "Run diagnostics and apply automatic fixes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := buildService()
			if err != nil {
				return err
			}
			defer cleanup()
			return cli.RunFix(cmd.Context(), svc, flagComponents, flagYes, os.Stdout)
		},
	}
	fix.Flags().BoolVar(&flagYes, "yes", false, "apply fixes that normally require confirmation")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache and circuit breaker state",
		RunE: func(_ *cobra.Command, args []string) error {
			svc, cleanup, err := buildService()
			if err != nil {
				return err
			}
			defer cleanup()
			checks := args
			if len(checks) == 0 {
				checks = []string{"database", "search_index", "filesystem", "process_resources", "config_file"}
			}
			return cli.RunStats(svc, checks, flagOutput, os.Stdout)
		},
	}

	root.AddCommand(diagnose, fix, stats)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildService loads configuration, opens the application database and
// assembles the wired diagnostic service. The returned cleanup closes the
// database.
func buildService() (*diagnostics.Service, func(), error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if flagVerbose {
		level = "debug"
	}
	log, err := logging.New(level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	svc := cli.BuildService(cfg, db, log, auditSink(level))
	return svc, func() { db.Close() }, nil
}

// auditSink builds the audit logger; audit entries share the process log
// stream.
func auditSink(level string) audit.Logger {
	z, err := logging.NewZap(level)
	if err != nil {
		return audit.NewNop()
	}
	return audit.NewZapLogger(z)
}
