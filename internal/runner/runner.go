// Package runner executes the routing jobs in their fixed order, reports a
// failed run to the operator, and schedules runs in serve mode.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/pkmhub/pkmhub/internal/email/outbound"
	"github.com/pkmhub/pkmhub/internal/pipeline"
)

// Notifier delivers the failure notice.
type Notifier interface {
	Send(msg *outbound.Message) error
}

// Recorder observes job and run outcomes; the metrics package implements it.
type Recorder interface {
	ObserveJob(report *pipeline.Report, err error, elapsed time.Duration)
	ObserveRun(err error, elapsed time.Duration)
}

// Locker guards a run against a concurrent process; runlock implements it.
type Locker interface {
	Guard(ctx context.Context) (release func(context.Context) error, held bool, err error)
}

// MultiRecorder fans observations out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) ObserveJob(report *pipeline.Report, err error, elapsed time.Duration) {
	for _, rec := range m {
		if rec != nil {
			rec.ObserveJob(report, err, elapsed)
		}
	}
}

func (m MultiRecorder) ObserveRun(err error, elapsed time.Duration) {
	for _, rec := range m {
		if rec != nil {
			rec.ObserveRun(err, elapsed)
		}
	}
}

// Runner runs the registered jobs one after another.
type Runner struct {
	registry *JobRegistry
	lock     Locker
	notifier Notifier
	operator []string
	recorder Recorder
	logger   *log.Logger
	newID    func() string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithNotifier mails failed runs to the operator addresses.
func WithNotifier(n Notifier, operator ...string) Option {
	return func(r *Runner) {
		r.notifier = n
		r.operator = operator
	}
}

// WithLock skips runs while another process holds the lock.
func WithLock(l Locker) Option {
	return func(r *Runner) { r.lock = l }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger replaces the default stdout logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner over registry.
func NewRunner(registry *JobRegistry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		logger:   log.New(os.Stdout, "[RUNNER] ", log.LstdFlags),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run executes the jobs in order, each to completion. Item failures stay in
// the job reports; a job that cannot run is joined into the returned error,
// and the remaining jobs still run. A failed run is mailed to the operator
// before the error is returned.
func (r *Runner) Run(ctx context.Context, only ...string) ([]*pipeline.Report, error) {
	runID := r.newID()
	if r.lock != nil {
		release, held, err := r.lock.Guard(ctx)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		if !held {
			r.logger.Printf("run %s skipped: another run holds the lock", runID)
			return nil, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Printf("run %s: %v", runID, err)
			}
		}()
	}
	start := time.Now()
	r.logger.Printf("run %s starting", runID)

	var (
		reports []*pipeline.Report
		errs    []error
	)
	for _, job := range r.registry.Ordered(only) {
		report, err := r.executeJob(ctx, job)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}

	runErr := errors.Join(errs...)
	if r.recorder != nil {
		r.recorder.ObserveRun(runErr, time.Since(start))
	}
	if runErr == nil {
		r.logger.Printf("run %s completed in %v", runID, time.Since(start))
		return reports, nil
	}

	r.logger.Printf("run %s failed: %v", runID, runErr)
	if err := r.notify(runID, runErr); err != nil {
		r.logger.Printf("run %s: failure notice not sent: %v", runID, err)
	}
	return reports, fmt.Errorf("run %s: %w", runID, runErr)
}

func (r *Runner) executeJob(ctx context.Context, job pipeline.Job) (*pipeline.Report, error) {
	r.logger.Printf("Executing job: %s", job.Name())
	start := time.Now()
	report, err := job.Run(ctx)
	duration := time.Since(start)

	if r.recorder != nil {
		r.recorder.ObserveJob(report, err, duration)
	}
	switch {
	case err != nil:
		r.logger.Printf("Job %s failed after %v: %v", job.Name(), duration, err)
	case report != nil && report.Failed() > 0:
		r.logger.Printf("Job %s finished in %v with %d of %d items failed", job.Name(), duration, report.Failed(), len(report.Results))
	default:
		r.logger.Printf("Job %s completed successfully in %v", job.Name(), duration)
	}
	return report, err
}

func (r *Runner) notify(runID string, runErr error) error {
	if r.notifier == nil || len(r.operator) == 0 {
		return nil
	}
	host, _ := os.Hostname()
	var body strings.Builder
	fmt.Fprintf(&body, "Run %s on %s failed at %s.\n\n", runID, host, time.Now().Format(time.RFC1123Z))
	body.WriteString(runErr.Error())
	body.WriteString("\n")
	return r.notifier.Send(&outbound.Message{
		To:      r.operator,
		Subject: "pkmhub run failed",
		Text:    body.String(),
	})
}

// Scheduler triggers runs on a cron schedule. A tick that arrives while the
// previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	spec   string
	logger *log.Logger
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for spec (six fields, seconds first).
func NewScheduler(runner *Runner, spec string) *Scheduler {
	logger := runner.logger
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		runner: runner,
		spec:   spec,
		logger: logger,
	}
}

// Start schedules the run and blocks until ctx ends or SIGINT/SIGTERM arrives.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Printf("Registering run with schedule: %s", s.spec)
	if _, err := s.cron.AddFunc(s.spec, func() { s.execute(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule run %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Println("Scheduler started")
	return s.waitForShutdown(ctx)
}

func (s *Scheduler) execute(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	// The error was already logged and mailed; the scheduler keeps going.
	_, _ = s.runner.Run(ctx)
}

// Stop waits for a run in progress, then stops the cron scheduler.
func (s *Scheduler) Stop() {
	s.logger.Println("Stopping scheduler...")
	stopped := s.cron.Stop()
	s.wg.Wait()
	<-stopped.Done()
	s.logger.Println("Scheduler stopped")
}

func (s *Scheduler) waitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.logger.Printf("Received signal: %v", sig)
		s.Stop()
		return nil
	case <-ctx.Done():
		s.logger.Println("Context cancelled")
		s.Stop()
		return ctx.Err()
	}
}
