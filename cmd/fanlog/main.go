package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aran/fanlog/internal/config"
	"github.com/aran/fanlog/internal/dispatch"
	"github.com/aran/fanlog/internal/follow"
	"github.com/aran/fanlog/internal/output"
	"github.com/aran/fanlog/internal/sink"
	"github.com/aran/fanlog/internal/verify"
	"github.com/aran/fanlog/internal/version"
	"github.com/aran/fanlog/internal/workload"
)

// flagValues mirrors config.Config for the command line. Only flags the
// user actually set override the file and environment.
type flagValues struct {
	configPath string

	path       string
	workers    int
	iterations int
	delay      time.Duration
	workload   string
	input      int
	timestamps bool
	sync       bool
	echo       bool
	continueOn bool
	logLevel   string
	logFormat  string
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(output.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	rootCmd.SetOut(output.Stdout)
	rootCmd.SetErr(output.Stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("error executing command", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := config.Default()
	fv := flagValues{}

	rootCmd := &cobra.Command{
		Use:   "fanlog",
		Short: "fanlog - run concurrent workers that append records to one shared log",
		Long: `fanlog starts a fixed number of workers. Each one repeatedly computes a value,
appends one record to a shared log file and pauses. Appends are serialized so
records never interleave, and the command returns once every worker is done.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd.Flags(), &fv)
			if err != nil {
				return err
			}
			logger := setupLogging(cfg)
			return runHarness(cmd.Context(), cfg, logger)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&fv.configPath, "config", "", "Path to a JSON config file")
	f.StringVar(&fv.path, "path", defaults.Path, `Sink file to append records to ("-" for stdout)`)
	f.IntVar(&fv.workers, "workers", defaults.Workers, "Number of concurrent workers")
	f.IntVar(&fv.iterations, "iterations", defaults.Iterations, "Records each worker appends")
	f.DurationVar(&fv.delay, "delay", defaults.Delay.Std(), "Pause between a worker's iterations")
	f.StringVar(&fv.workload, "workload", defaults.Workload, "Computation to run ("+strings.Join(workload.Names(), ", ")+")")
	f.IntVar(&fv.input, "input", defaults.Input, "Input passed to the workload")
	f.BoolVar(&fv.timestamps, "timestamps", defaults.Timestamps, "Prefix each record with a timestamp")
	f.BoolVar(&fv.sync, "sync", defaults.Sync, "fsync the sink after every record")
	f.BoolVar(&fv.echo, "echo", defaults.Echo, "Echo every record to stdout as it is logged")
	f.BoolVar(&fv.continueOn, "continue-on-write-failure", defaults.ContinueOnWriteFailure,
		"Drop a record whose write failed and keep going instead of stopping the worker")
	f.StringVar(&fv.logLevel, "log-level", defaults.Logging.Level, "Log level (debug, info, warn, error)")
	f.StringVar(&fv.logFormat, "log-format", defaults.Logging.Format, "Log format (text, json)")

	rootCmd.AddCommand(newVerifyCmd(), newFollowCmd())

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Info())
	return rootCmd
}

// loadConfig layers defaults, the config file, FANLOG_* variables and
// explicitly set flags, in that order.
func loadConfig(flags *pflag.FlagSet, fv *flagValues) (*config.Config, error) {
	cfg, err := config.Read(fv.configPath)
	if err != nil {
		return nil, err
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("path", func() { cfg.Path = fv.path })
	set("workers", func() { cfg.Workers = fv.workers })
	set("iterations", func() { cfg.Iterations = fv.iterations })
	set("delay", func() { cfg.Delay = config.Duration(fv.delay) })
	set("workload", func() { cfg.Workload = fv.workload })
	set("input", func() { cfg.Input = fv.input })
	set("timestamps", func() { cfg.Timestamps = fv.timestamps })
	set("sync", func() { cfg.Sync = fv.sync })
	set("echo", func() { cfg.Echo = fv.echo })
	set("continue-on-write-failure", func() { cfg.ContinueOnWriteFailure = fv.continueOn })
	set("log-level", func() { cfg.Logging.Level = fv.logLevel })
	set("log-format", func() { cfg.Logging.Format = fv.logFormat })

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the default logger. Logs move to stderr when the
// records themselves go to stdout.
func setupLogging(cfg *config.Config) *slog.Logger {
	var w io.Writer = output.Stdout
	if cfg.Path == sink.StdoutPath {
		w = output.Stderr
	}

	level, _ := config.ParseLevel(cfg.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// runHarness opens the sink, runs every worker to completion and closes the
// sink. If the sink cannot be opened no worker runs.
func runHarness(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	wl, err := workload.New(cfg.Workload, cfg.Input)
	if err != nil {
		return err
	}

	runID := newRunID()
	logger = logger.With("run", runID)

	opts := []sink.Option{sink.WithSync(cfg.Sync), sink.WithLogger(logger)}
	if cfg.Timestamps {
		opts = append(opts, sink.WithTimestamps(sink.DefaultTimeLayout))
	}
	if cfg.Echo && cfg.Path != sink.StdoutPath {
		opts = append(opts, sink.WithEcho(output.Stdout))
	}

	s, err := sink.Open(cfg.Path, opts...)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	logger.Info("run starting",
		"version", version.ShortInfo(),
		"sink", s.Name(),
		"workers", cfg.Workers,
		"iterations", cfg.Iterations,
		"delay", cfg.Delay.Std(),
		"workload", wl.Label())

	summary, err := dispatch.RunAll(ctx, dispatch.Options{
		Workers:                cfg.Workers,
		Iterations:             cfg.Iterations,
		Delay:                  cfg.Delay.Std(),
		RunID:                  runID,
		ContinueOnWriteFailure: cfg.ContinueOnWriteFailure,
		Logger:                 logger,
	}, wl, s)

	stats := s.Stats()
	if err != nil {
		logger.Error("run finished with errors",
			"records", summary.Appended(),
			"failed", summary.Failed(),
			"sink_failures", stats.Failures,
			"elapsed", summary.Elapsed)
		return err
	}

	logger.Info("run complete",
		"records", summary.Appended(),
		"bytes", stats.Bytes,
		"elapsed", summary.Elapsed)
	return nil
}

// newRunID returns a short id that tells runs sharing one file apart.
func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func newVerifyCmd() *cobra.Command {
	var expect verify.Expect

	cmd := &cobra.Command{
		Use:   "verify [path]",
		Short: "Check that every record in a sink file is whole and in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			path := config.Default().Path
			if len(args) == 1 {
				path = args[0]
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			report, err := verify.Check(f, expect)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lines:    %d\n", report.Lines)
			fmt.Fprintf(out, "records:  %d\n", report.Records())
			if report.Skipped > 0 {
				fmt.Fprintf(out, "skipped:  %d (other runs)\n", report.Skipped)
			}
			for _, id := range report.RunIDs() {
				run := report.Runs[id]
				if id == "" {
					id = "-"
				}
				fmt.Fprintf(out, "run %s: %d records from %d workers, %d distinct values\n",
					id, run.Records, len(run.PerWorker), len(run.Values))
			}

			problems := report.Problems()
			for _, p := range problems {
				fmt.Fprintf(out, "problem:  %s\n", p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%s: %d problems found", path, len(problems))
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&expect.Run, "run", "", "Only check records from this run id")
	cmd.Flags().IntVar(&expect.Workers, "workers", 0, "Expected number of workers (0 to skip)")
	cmd.Flags().IntVar(&expect.Iterations, "iterations", 0, "Expected records per worker (0 to skip)")
	return cmd
}

func newFollowCmd() *cobra.Command {
	var opts follow.Options

	cmd := &cobra.Command{
		Use:   "follow [path]",
		Short: "Print records as they are appended to a sink file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			path := config.Default().Path
			if len(args) == 1 {
				path = args[0]
			}

			fl, err := follow.Open(path, cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}
			defer fl.Close()

			slog.Info("following sink", "path", path)
			return fl.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&opts.FromStart, "from-start", false, "Print existing records before following")
	return cmd
}
