package services

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestNewSchedulerRegistersJobs(t *testing.T) {
	env := newTestEnv(t)
	s, err := NewScheduler(env.sessions, env.pools, SchedulerConfig{
		SweepInterval:      time.Minute,
		DailyFinalizeCron:  "5 0 * * *",
		WeeklyFinalizeCron: "10 0 * * 1",
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	defer s.Shutdown()

	if err := s.AddCronJob("archive-audit", "30 0 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCronJob: %v", err)
	}

	names := s.JobNames()
	sort.Strings(names)
	want := []string{"archive-audit", "finalize-daily", "finalize-weekly", "session-sweep"}
	if len(names) != len(want) {
		t.Fatalf("jobs = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("jobs = %v, want %v", names, want)
		}
	}
}

func TestNewSchedulerRejectsBadConfig(t *testing.T) {
	env := newTestEnv(t)
	if _, err := NewScheduler(env.sessions, env.pools, SchedulerConfig{DailyFinalizeCron: "5 0 * * *", WeeklyFinalizeCron: "10 0 * * 1"}); err == nil {
		t.Fatal("zero sweep interval accepted")
	}
	if _, err := NewScheduler(env.sessions, env.pools, SchedulerConfig{
		SweepInterval:      time.Minute,
		DailyFinalizeCron:  "every day",
		WeeklyFinalizeCron: "10 0 * * 1",
	}); err == nil {
		t.Fatal("invalid cron expression accepted")
	}
}
