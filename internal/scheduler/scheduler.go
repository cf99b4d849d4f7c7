// Package scheduler provides cron-based job scheduling for MenuPipe.
//
// It runs recurring maintenance work, such as the reactivation sweep, using
// cron expressions.
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner and tracks registered jobs by name.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler creates and starts a cron scheduler. Panicking jobs are
// recovered so one bad sweep cannot take the runner down.
func NewScheduler() *Scheduler {
	// Standard 5-field cron expressions (min, hour, dom, month, dow).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, entries: make(map[string]cron.EntryID)}
}

// AddJob schedules a named task using the provided cron expression. Adding a
// name that already exists replaces the previous job.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev)
	}
	s.entries[name] = id
	s.mu.Unlock()

	slog.Debug("Scheduler registered job", "name", name, "cron", expr)
	return nil
}

// RemoveJob deregisters a named job. Unknown names are a no-op.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// JobCount reports the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop stops the cron runner. Jobs already executing run to completion.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
