package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spachava753/repovisor/internal/config"
	"github.com/spachava753/repovisor/internal/executor"
	"github.com/spachava753/repovisor/internal/health"
	"github.com/spachava753/repovisor/internal/logging"
	"github.com/spachava753/repovisor/internal/models"
)

var rootCmd = &cobra.Command{
	Use:   "repovisor <config>",
	Short: "Provision and supervise long-running processes from git repositories",
	Long: `repovisor clones each configured repository, creates an isolated
dependency environment for it, installs its dependencies and runs its
command, streaming every line of output to a shared log until the
processes exit or the supervisor is interrupted.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Flags().String("log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.Flags().String("base-dir", "", "override the directory holding task workspaces")
	rootCmd.Flags().Bool("no-health", false, "disable the health endpoint")
}

// loggedError is an error already written to the configured log.
type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(args[0])
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}

	logger, closer, err := logging.Setup(logging.Options{
		File:    cfg.Log.File,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Console: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	healthDone := make(chan struct{})
	if cfg.Health.Enabled {
		healthCtx, stopHealth := context.WithCancel(context.Background())
		defer func() {
			stopHealth()
			<-healthDone
		}()
		go func() {
			defer close(healthDone)
			if err := health.NewServer(cfg.Health.Addr, cfg.Health.Status).ListenAndServe(healthCtx); err != nil {
				slog.Error("health server failed", "error", err)
			}
		}()
	} else {
		close(healthDone)
	}

	slog.Info("starting tasks", "count", len(cfg.Tasks), "base_dir", cfg.BaseDir, "environment", cfg.Environment.Type)

	result, err := executor.RunFromConfig(ctx, cfg, logging.NewSlogSink(logger))
	if err != nil {
		// Logged here so the record reaches the log file before it is closed.
		err = fmt.Errorf("running tasks: %w", err)
		slog.Error("critical error", "error", err)
		return &loggedError{err: err}
	}

	printSummary(result)
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *models.Config) error {
	if cmd.Flags().Changed("log-level") {
		level, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = level
	}
	if cmd.Flags().Changed("base-dir") {
		dir, err := cmd.Flags().GetString("base-dir")
		if err != nil {
			return err
		}
		cfg.BaseDir = dir
	}
	noHealth, err := cmd.Flags().GetBool("no-health")
	if err != nil {
		return err
	}
	if noHealth {
		cfg.Health.Enabled = false
	}
	return nil
}

func printSummary(result *models.RunResult) {
	fmt.Printf("\nTotal tasks: %d\n", result.TotalTasks)
	fmt.Printf("Exited: %d\n", result.ExitedTasks)
	fmt.Printf("Failed: %d\n", result.FailedTasks)
	fmt.Printf("Skipped: %d\n", result.Skipped)
	for _, task := range result.Tasks {
		code := "-"
		if task.ExitCode != nil {
			code = fmt.Sprint(*task.ExitCode)
		}
		fmt.Printf("  %-30s %-13s exit=%s\n", task.Identity, task.Status, code)
	}
	fmt.Printf("Duration: %.2fs\n", result.EndedAt.Sub(result.StartedAt).Seconds())
	if result.Cancelled {
		fmt.Println("Run was interrupted")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var logged *loggedError
		if !errors.As(err, &logged) {
			slog.Error("critical error", "error", err)
		}
		os.Exit(1)
	}
}
