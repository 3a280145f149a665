package runner

import (
	"slices"

	"github.com/pkmhub/pkmhub/internal/pipeline"
)

// JobRegistry holds the configured jobs by name.
type JobRegistry struct {
	jobs map[string]pipeline.Job
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]pipeline.Job)}
}

// Register adds a job, replacing one with the same name.
func (r *JobRegistry) Register(job pipeline.Job) {
	if job != nil {
		r.jobs[job.Name()] = job
	}
}

// Get returns a job by name.
func (r *JobRegistry) Get(name string) (pipeline.Job, bool) {
	job, ok := r.jobs[name]
	return job, ok
}

// Names lists the registered jobs in run order.
func (r *JobRegistry) Names() []string {
	var names []string
	for _, name := range pipeline.JobOrder {
		if _, ok := r.jobs[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Ordered returns the registered jobs in run order. A non-empty only list
// restricts the result to those names.
func (r *JobRegistry) Ordered(only []string) []pipeline.Job {
	var jobs []pipeline.Job
	for _, name := range r.Names() {
		if len(only) > 0 && !slices.Contains(only, name) {
			continue
		}
		jobs = append(jobs, r.jobs[name])
	}
	return jobs
}
