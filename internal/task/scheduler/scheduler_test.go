package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		expr  string
	}{
		{"300", SpecInterval, 5 * time.Minute, "@every 5m0s"},
		{"5m", SpecInterval, 5 * time.Minute, "@every 5m0s"},
		{"00:05", SpecInterval, 5 * time.Minute, "@every 5m0s"},
		{"every:90s", SpecInterval, 90 * time.Second, "@every 1m30s"},
		{"@every 2m", SpecInterval, 2 * time.Minute, "@every 2m0s"},
		{"*/5 * * * *", SpecCron, 0, "*/5 * * * *"},
		{"@hourly", SpecCron, 0, "@hourly"},
		{"cron:0 7 * * 1-5", SpecCron, 0, "0 7 * * 1-5"},
	}
	for _, tc := range cases {
		ps, err := ParseSchedule(tc.in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error: %v", tc.in, err)
		}
		if ps.Kind != tc.kind || ps.Every != tc.every || ps.Expr() != tc.expr {
			t.Fatalf("ParseSchedule(%q) = %+v (%s), want kind=%v every=%v expr=%s", tc.in, ps, ps.Expr(), tc.kind, tc.every, tc.expr)
		}
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "  ", "0", "-5", "soon", "every:", "cron:", "00:00"} {
		if _, err := ParseSchedule(in); err == nil {
			t.Fatalf("ParseSchedule(%q) = nil error", in)
		}
	}
}

func TestAddRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nopLogger(), nil)
	if err := s.Add("x", "cron:not a cron", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("Add accepted invalid cron")
	}
	if err := s.Add("", "5m", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("Add accepted empty name")
	}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Europe/Berlin"}, nopLogger(), nil)
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	err := s.Add("poll", "1h", time.Minute, func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if !s.Trigger("poll") {
		t.Fatalf("Trigger(poll) = false")
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not start")
	}
	s.Trigger("poll")

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if len(snap.Schedules) == 1 && snap.Schedules[0].Skipped == 1 {
			if !snap.Schedules[0].Running || snap.Timezone != "Europe/Berlin" || snap.Schedules[0].Next.IsZero() {
				t.Fatalf("snapshot = %+v", snap)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second trigger was not skipped: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	snap := s.Snapshot()
	if snap.Started || snap.Schedules[0].Runs != 1 {
		t.Fatalf("after stop snapshot = %+v", snap)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nopLogger(), nil)
	_ = s.Add("a", "5m", 0, func(context.Context) error { return nil })
	if !s.Remove("a") || s.Remove("a") {
		t.Fatalf("Remove did not report existence correctly")
	}
	if s.Trigger("a") {
		t.Fatalf("Trigger after Remove = true")
	}
}
