// lyricreelctl inspects and edits lyricreel project histories.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lyricreel/internal/checkpoint"
	"lyricreel/internal/config"
	"lyricreel/internal/logging"
	"lyricreel/internal/metrics"
	"lyricreel/internal/store"
)

// app holds what every command needs once the root pre-run has opened the store.
type app struct {
	configPath  string
	dbPath      string
	logLevel    string
	metricsFmt  string
	cfg         *config.Config
	log         *logging.Logger
	metrics     *metrics.HistoryMetrics
	store       *store.Store
	checkpoints *checkpoint.Checkpointer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(stderr); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "lyricreelctl",
		Short: "Inspect and edit lyricreel project histories",
		Long: `lyricreelctl reads and appends to the event log that records every change
made to a lyricreel project. Project state at any point in time is rebuilt by
replaying the log, starting from the latest snapshot when one is available.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to config file (default: ./config.*, then the platform config and data dirs)")
	flags.StringVar(&a.dbPath, "db", "", "path to the history database (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.metricsFmt, "metrics", "", "dump metrics to stderr on exit: json or prom")

	root.AddCommand(
		newInitCmd(a),
		newAppendCmd(a),
		newEventsCmd(a),
		newHistoryCmd(a),
		newStateCmd(a),
		newSnapshotCmd(a),
		newSnapshotsCmd(a),
		newRestorePointCmd(a),
		newVerifyCmd(a),
		newDoctorCmd(a),
		newProjectsCmd(a),
		newExportCmd(a),
		newTailCmd(a),
		newConfigCmd(a),
	)
	return root
}

// open loads configuration and opens the store.
func (a *app) open() error {
	switch a.metricsFmt {
	case "", "json", "prom":
	default:
		return fmt.Errorf("unknown metrics format %q (valid: json, prom)", a.metricsFmt)
	}

	a.configPath = config.ResolvePath(a.configPath)
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Storage.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	a.cfg = cfg

	logCfg, err := cfg.LoggerConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.log = log.WithComponent("lyricreelctl")

	a.metrics = metrics.NewHistoryMetrics(metrics.NewRegistry("lyricreel", ""))

	opts, err := cfg.StoreOptions(log, a.metrics)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.DatabasePath(), opts...)
	if err != nil {
		return err
	}
	a.store = s
	a.checkpoints = checkpoint.New(s, cfg.CheckpointPolicy(), log)

	a.log.Debug("store opened", "path", s.Path(), "replay_mode", s.ReplayMode())
	return nil
}

// close dumps metrics if requested and releases the store and logger.
func (a *app) close(stderr io.Writer) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.metrics != nil {
		switch a.metricsFmt {
		case "json":
			keep(a.metrics.Registry().WriteJSON(stderr))
		case "prom":
			keep(a.metrics.Registry().WritePrometheus(stderr))
		}
	}
	if a.store != nil {
		keep(a.store.Close())
		a.store = nil
	}
	if a.log != nil {
		keep(a.log.Close())
		a.log = nil
	}
	return firstErr
}
