// Command pointsctl operates on a points database directly: seeding demo
// data, issuing and redeeming codes, and printing reports as JSON.
//
// It reads the same environment as the server (see config/config.go);
// --db and --log-level override DB_PATH and LOG_LEVEL.
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ecosync/rewards-engine/config"
	"github.com/ecosync/rewards-engine/logger"
	"github.com/ecosync/rewards-engine/points"
	"github.com/ecosync/rewards-engine/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "pointsctl",
	Short: "Operate the e-waste points ledger",
	Long: `pointsctl opens the SQLite database used by the server and runs one
operation against it. Every command prints its result as JSON.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		return err
	},
}

// cfg is loaded before every command runs.
var cfg config.Config

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (default $DB_PATH)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (default $LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── Engine wiring ──────────────────────────────────────────────────────────

type engine struct {
	store       *sqlite.Store
	ledger      *points.Ledger
	registry    *points.Registry
	coordinator *points.Coordinator
	reporter    *points.Reporter
	log         zerolog.Logger
}

func openEngine(cmd *cobra.Command) (*engine, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = cfg.DB.Path
	}
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = cfg.Log.Level
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr()).Level(logger.ParseLevel(level))

	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, err
	}
	ledger := points.NewLedger(store)
	registry := points.NewRegistry(store, ledger)
	coordinator := points.NewCoordinator(registry, ledger)
	coordinator.DefaultAward = cfg.Points.DefaultAward
	coordinator.Log = log
	return &engine{
		store:       store,
		ledger:      ledger,
		registry:    registry,
		coordinator: coordinator,
		reporter:    points.NewReporter(store),
		log:         log,
	}, nil
}

func (e *engine) Close() error { return e.store.Close() }

// withEngine opens the database, runs fn with a logger-carrying context,
// and closes the database.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine) (any, error)) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := logger.WithContext(cmd.Context(), e.log)
	out, err := fn(ctx, e)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
