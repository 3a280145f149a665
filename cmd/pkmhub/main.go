// Command pkmhub routes mail, files, notes and tasks between mailboxes,
// Joplin or an Obsidian vault, and Todoist.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/spf13/cobra"

	"github.com/pkmhub/pkmhub/internal/config"
	"github.com/pkmhub/pkmhub/internal/metrics"
	"github.com/pkmhub/pkmhub/internal/pipeline"
	"github.com/pkmhub/pkmhub/internal/runlock"
	"github.com/pkmhub/pkmhub/internal/runner"
	"github.com/pkmhub/pkmhub/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPathFlag string
	jobFlags       []string
)

var rootCmd = &cobra.Command{
	Use:   "pkmhub",
	Short: "Route mail, files, notes and tasks between mailboxes, Joplin and Todoist",
	Long: `pkmhub drains mailboxes and an import directory into notes, mails tagged
notes to Kindle and Trello, and keeps notes and Todoist tasks in step.

Each run executes the enabled jobs once, in a fixed order.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enabled jobs once",
	RunE:  runOnce,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the jobs on the configured schedule",
	RunE:  serve,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the jobs in run order",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range pipeline.JobOrder {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pkmhub %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPathFlag, "config", "c", "config.yaml", "Path to the YAML configuration file")
	runCmd.Flags().StringSliceVar(&jobFlags, "job", nil, "Run only the named job (repeatable)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func startVips() func() {
	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(nil)
	return vips.Shutdown
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return err
	}
	for _, name := range jobFlags {
		if !cfg.Enabled(name) {
			return fmt.Errorf("job %q is unknown or not configured", name)
		}
	}
	defer startVips()()

	h, err := buildHub(cfg, nil)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []runner.Option{runner.WithNotifier(h.sender, cfg.Notify.Email...)}
	lockOpt, closeLock, err := lockOption(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLock()
	r := runner.NewRunner(h.registry, append(opts, lockOpt)...)

	reports, err := r.Run(ctx, jobFlags...)
	printSummary(cmd, reports)
	return err
}

// lockOption connects the Redis run lock when lock.redis_addr is set.
func lockOption(ctx context.Context, cfg *config.Config) (runner.Option, func(), error) {
	if cfg.Lock.RedisAddr == "" {
		return nil, func() {}, nil
	}
	lock, err := runlock.New(ctx, runlock.Config{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
		Key:      cfg.Lock.Key,
		TTL:      cfg.Lock.TTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return runner.WithLock(lock), func() { _ = lock.Close() }, nil
}

func printSummary(cmd *cobra.Command, reports []*pipeline.Report) {
	for _, rep := range reports {
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s %3d items, %3d failed\n", rep.Job, len(rep.Results), rep.Failed())
	}
}

// scheduledRunner rebuilds the job registry when the configuration changes;
// the new jobs take effect at the next tick.
type scheduledRunner struct {
	mu  sync.Mutex
	hub *hub
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return err
	}
	defer startVips()()

	logger := log.New(os.Stdout, "[SERVE] ", log.LstdFlags)
	h, err := buildHub(cfg, nil)
	if err != nil {
		return err
	}

	lockOpt, closeLock, err := lockOption(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeLock()

	status := server.NewStatus()
	recorders := runner.MultiRecorder{status}
	var srv *server.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()
		recorders = append(recorders, m)
		srv = server.New(cfg.Metrics.Addr, status, server.WithMetrics(cfg.Metrics.Path, m.Handler()))
		srv.Start()
	}

	sr := &scheduledRunner{hub: h}
	config.Watch(logger, func(newCfg *config.Config) {
		rebuilt, err := buildHub(newCfg, nil)
		if err != nil {
			logger.Printf("keeping previous jobs: %v", err)
			return
		}
		sr.mu.Lock()
		sr.hub = rebuilt
		sr.mu.Unlock()
	})

	registry := runner.NewJobRegistry()
	for _, name := range pipeline.JobOrder {
		registry.Register(&liveJob{name: name, sr: sr})
	}
	r := runner.NewRunner(registry,
		runner.WithRecorder(recorders),
		runner.WithNotifier(h.sender, cfg.Notify.Email...),
		lockOpt,
	)

	err = runner.NewScheduler(r, cfg.Schedule.Cron).Start(cmd.Context())
	if srv != nil {
		if serr := srv.Shutdown(); serr != nil {
			logger.Printf("http shutdown: %v", serr)
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// liveJob runs the current registry's job of the same name, or reports
// nothing when that job is no longer configured.
type liveJob struct {
	name string
	sr   *scheduledRunner
}

func (j *liveJob) Name() string { return j.name }

func (j *liveJob) Run(ctx context.Context) (*pipeline.Report, error) {
	j.sr.mu.Lock()
	h := j.sr.hub
	j.sr.mu.Unlock()
	job, ok := h.registry.Get(j.name)
	if !ok {
		return &pipeline.Report{Job: j.name}, nil
	}
	return job.Run(ctx)
}
