package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob(TickSpec, func() {}); err != nil {
		t.Errorf("valid cron expression rejected: %v", err)
	}
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("expected invalid cron expression to be rejected")
	}
}
