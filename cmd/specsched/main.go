package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"specsched/internal/adapters/audit"
	"specsched/internal/adapters/duckdb"
	"specsched/internal/adapters/providers"
	"specsched/internal/adapters/statefile"
	"specsched/internal/adapters/sysmon"
	"specsched/internal/adapters/taskdoc"
	appconfig "specsched/internal/config"
	"specsched/internal/core/domain"
	"specsched/internal/core/ports"
	"specsched/internal/core/services"
	"specsched/pkg/kernel"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "specsched",
		Short:         "Dependency-aware task scheduler with host resource admission",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newScheduleCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newServeCommand())
	return root
}

// runtime bundles everything a command needs after wiring.
type runtime struct {
	logger    *slog.Logger
	cfg       *appconfig.Config
	store     *statefile.Store
	scheduler *services.Scheduler
	history   *duckdb.Repository
	bus       *services.EventBus
}

func (rt *runtime) close() {
	if rt.history != nil {
		rt.history.Close()
	}
}

func buildRuntime(maxConcurrent int) (*runtime, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := appconfig.Load()
	if err != nil {
		return nil, err
	}
	if maxConcurrent > 0 {
		cfg.Scheduler.MaxConcurrentTasks = maxConcurrent
	}

	store, err := statefile.NewStore(logger, cfg.StatePath, cfg.FallbackStatePath)
	if err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}

	executor, err := providers.BuildExecutor(logger, cfg.Executor)
	if err != nil {
		return nil, fmt.Errorf("init executor: %w", err)
	}

	history, err := duckdb.NewRepository(cfg.HistoryDBPath)
	if err != nil {
		logger.Warn("run history disabled", "path", cfg.HistoryDBPath, "error", err)
		history = nil
	}

	monitor := sysmon.NewMonitor(logger)
	ledger := services.NewResourceLedger(logger, monitor, cfg.Scheduler)
	bus := services.NewEventBus(logger)

	deps := services.SchedulerDeps{
		Ledger:   ledger,
		Store:    store,
		Executor: executor,
		Audit:    audit.NewLog(cfg.AuditLogPath),
		Bus:      bus,
	}
	if history != nil {
		deps.History = history
	}
	scheduler, err := services.NewScheduler(logger, deps, cfg.Scheduler)
	if err != nil {
		return nil, err
	}

	return &runtime{
		logger:    logger,
		cfg:       cfg,
		store:     store,
		scheduler: scheduler,
		history:   history,
		bus:       bus,
	}, nil
}

func newScheduleCommand() *cobra.Command {
	var (
		maxConcurrent int
		dryRun        bool
		tasksFile     string
	)
	cmd := &cobra.Command{
		Use:   "schedule <specName>",
		Short: "Execute a specification's tasks in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specName := args[0]

			rt, err := buildRuntime(maxConcurrent)
			if err != nil {
				return err
			}
			defer rt.close()

			path := tasksFile
			if path == "" {
				path = rt.cfg.TaskDocumentPath(specName)
			}
			tasks, err := taskdoc.NewParser().Load(path)
			if err != nil {
				return err
			}

			if dryRun {
				batches, err := rt.scheduler.Plan(tasks)
				if err != nil {
					return err
				}
				printPlan(cmd, specName, batches)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := rt.scheduler.Run(ctx, specName, tasks)
			if err != nil {
				return err
			}
			printSummary(cmd, summary)
			if !summary.Success {
				return fmt.Errorf("run %s finished with %d failed and %d blocked task(s)",
					summary.RunID, summary.FailedCount, summary.BlockedCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "override the concurrent task cap")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the batch plan without executing")
	cmd.Flags().StringVar(&tasksFile, "tasks", "", "path to the task document (default: <specs_dir>/<specName>/tasks.yaml)")
	return cmd
}

func printPlan(cmd *cobra.Command, specName string, batches [][]domain.Task) {
	cmd.Printf("plan for %s: %d batch(es)\n", specName, len(batches))
	for i, batch := range batches {
		ids := make([]string, len(batch))
		for j, t := range batch {
			ids[j] = t.ID
		}
		cmd.Printf("  batch %d: %s\n", i, strings.Join(ids, ", "))
	}
}

func printSummary(cmd *cobra.Command, summary domain.RunSummary) {
	cmd.Printf("run %s (%s)\n", summary.RunID, summary.SpecName)
	for _, b := range summary.Batches {
		cmd.Printf("  batch %d: %d completed, %d failed, %d blocked (%s)\n",
			b.Index, b.Completed, b.Failed, b.Blocked, strings.Join(b.TaskIDs, ", "))
	}
	cmd.Printf("completed=%d failed=%d blocked=%d skipped=%d duration=%s success=%t\n",
		summary.CompletedCount, summary.FailedCount, summary.BlockedCount, summary.SkippedCount,
		summary.Duration().Round(time.Millisecond), summary.Success)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [specName]",
		Short: "Show persisted scheduler state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(0)
			if err != nil {
				return err
			}
			defer rt.close()

			if len(args) == 1 {
				spec, err := rt.store.GetSpec(args[0])
				if err != nil {
					return fmt.Errorf("specification %s: %w", args[0], err)
				}
				cmd.Printf("%s: phase=%s progress=%.1f%% tasks=%d\n",
					spec.Name, spec.CurrentPhase, spec.ProgressPercentage(), len(spec.Tasks))
				for id, task := range spec.Tasks {
					line := fmt.Sprintf("  %s: %s", id, task.Status)
					if task.LastError != "" {
						line += " (" + task.LastError + ")"
					}
					cmd.Println(line)
				}
				return nil
			}

			snap := rt.store.Snapshot()
			cmd.Printf("specs=%d total_executed=%d peak_concurrent=%d\n",
				len(snap.Specs), snap.TotalTasksExecuted, snap.PeakConcurrentTasks)
			for name, spec := range snap.Specs {
				cmd.Printf("  %s: phase=%s progress=%.1f%%\n",
					name, spec.CurrentPhase, spec.ProgressPercentage())
			}
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(0)
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.history == nil {
				return errors.New("run history is not available")
			}

			runs, err := rt.history.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				cmd.Printf("%s %s success=%t completed=%d failed=%d duration=%s\n",
					run.StartedAt.Format(time.RFC3339), run.SpecName, run.Success,
					run.CompletedCount, run.FailedCount, run.Duration().Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scheduler state and event stream over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(0)
			if err != nil {
				return err
			}
			defer rt.close()

			if addr == "" {
				addr = rt.cfg.ServerAddr
			}

			apiServer := kernel.NewServer(rt.logger, rt.store, historyOrNil(rt.history), rt.bus)

			c := cors.New(cors.Options{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"*"},
			})
			httpServer := &http.Server{
				Addr:    addr,
				Handler: c.Handler(apiServer.Handler()),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gCtx := errgroup.WithContext(ctx)
			g.Go(func() error {
				rt.logger.Info("starting status api server", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("api server failed: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gCtx.Done()
				rt.logger.Info("shutting down api server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// historyOrNil keeps a typed-nil *duckdb.Repository from sneaking into the
// server's interface field.
func historyOrNil(repo *duckdb.Repository) ports.HistoryRepository {
	if repo == nil {
		return nil
	}
	return repo
}
