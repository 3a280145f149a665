package server

import (
	"sync"
	"time"

	"github.com/pkmhub/pkmhub/internal/pipeline"
)

// JobStatus is the last observed outcome of one job.
type JobStatus struct {
	Job      string         `json:"job"`
	Counts   map[string]int `json:"counts,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration string         `json:"duration"`
	At       time.Time      `json:"at"`
}

// RunStatus is the last completed run.
type RunStatus struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Duration string    `json:"duration"`
	At       time.Time `json:"at"`
}

// Snapshot is what /status returns.
type Snapshot struct {
	Started     time.Time            `json:"started"`
	Runs        int                  `json:"runs"`
	LastRun     *RunStatus           `json:"last_run,omitempty"`
	LastSuccess *time.Time           `json:"last_success,omitempty"`
	Jobs        map[string]JobStatus `json:"jobs"`
}

// Status remembers the latest run and job outcomes. It satisfies the
// runner's Recorder interface.
type Status struct {
	mu      sync.RWMutex
	now     func() time.Time
	started time.Time
	runs    int
	lastRun *RunStatus
	lastOK  *time.Time
	jobs    map[string]JobStatus
}

// NewStatus creates an empty status board.
func NewStatus() *Status {
	return newStatus(time.Now)
}

func newStatus(now func() time.Time) *Status {
	return &Status{now: now, started: now(), jobs: make(map[string]JobStatus)}
}

func (s *Status) ObserveJob(report *pipeline.Report, err error, elapsed time.Duration) {
	if report == nil {
		return
	}
	counts := make(map[string]int)
	for _, res := range report.Results {
		counts[res.Action]++
	}
	js := JobStatus{Job: report.Job, Counts: counts, Duration: elapsed.Round(time.Millisecond).String(), At: s.now()}
	if err != nil {
		js.Error = err.Error()
	}
	s.mu.Lock()
	s.jobs[report.Job] = js
	s.mu.Unlock()
}

func (s *Status) ObserveRun(err error, elapsed time.Duration) {
	at := s.now()
	rs := &RunStatus{OK: err == nil, Duration: elapsed.Round(time.Millisecond).String(), At: at}
	if err != nil {
		rs.Error = err.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.lastRun = rs
	if err == nil {
		s.lastOK = &at
	}
}

// Snapshot copies the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Started: s.started, Runs: s.runs, Jobs: make(map[string]JobStatus, len(s.jobs))}
	if s.lastRun != nil {
		rs := *s.lastRun
		snap.LastRun = &rs
	}
	if s.lastOK != nil {
		t := *s.lastOK
		snap.LastSuccess = &t
	}
	for k, v := range s.jobs {
		snap.Jobs[k] = v
	}
	return snap
}
