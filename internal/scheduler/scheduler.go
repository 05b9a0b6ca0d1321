// Package scheduler provides the recurring sweep scheduling for Amparo.
//
// It wraps a cron runner configured so that a tick that outlives its period
// causes the next tick to be skipped rather than run concurrently: the
// engine's at-most-once argument relies on ticks never overlapping.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Scheduler runs jobs on 5-field cron expressions (minute granularity).
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler returns a running scheduler. Each job is wrapped so that a
// panic is recovered and an invocation is dropped while the previous one is
// still in flight.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob registers task under the cron expression, rejecting expressions the
// 5-field parser cannot read.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop shuts the runner down and blocks until in-flight jobs drain.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
