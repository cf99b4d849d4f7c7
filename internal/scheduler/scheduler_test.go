package scheduler

import "testing"

func TestAddJobValidatesExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("bad", "not a cron expr", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if got := s.JobCount(); got != 0 {
		t.Errorf("JobCount() = %d, want 0", got)
	}

	if err := s.AddJob("sweep", "*/5 * * * *", func() {}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if got := s.JobCount(); got != 1 {
		t.Errorf("JobCount() = %d, want 1", got)
	}
}

func TestAddJobReplacesSameName(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("sweep", "*/5 * * * *", func() {}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := s.AddJob("sweep", "*/10 * * * *", func() {}); err != nil {
		t.Fatalf("AddJob replace failed: %v", err)
	}
	if got := s.JobCount(); got != 1 {
		t.Errorf("JobCount() after replace = %d, want 1", got)
	}
}

func TestRemoveJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("sweep", "0 * * * *", func() {}); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	s.RemoveJob("sweep")
	if got := s.JobCount(); got != 0 {
		t.Errorf("JobCount() after remove = %d, want 0", got)
	}

	// Unknown names are a no-op.
	s.RemoveJob("missing")
}
