package scheduler

import (
	"context"
	"testing"
	"time"

	"RegScanner/internal/logging"
)

func TestNewCronSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	if _, err := NewCronScheduler("not a cron", time.UTC, logging.Discard()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCronSchedulerNextHonoursLocation(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	s, err := NewCronScheduler("0 6 * * *", loc, logging.Discard())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatalf("next should be zero before start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("start: %v", err)
	}

	next := s.Next().In(loc)
	if next.Hour() != 6 || next.Minute() != 0 {
		t.Fatalf("unexpected next fire: %v", next)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatalf("next should be zero after stop")
	}
}

func TestCronSchedulerFiresJob(t *testing.T) {
	t.Parallel()

	s, err := NewCronScheduler("@every 1s", time.UTC, logging.Discard())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	fired := make(chan time.Time, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx, func(at time.Time) {
		select {
		case fired <- at:
		default:
		}
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case at := <-fired:
		if at.IsZero() {
			t.Fatalf("zero trigger time")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not fire")
	}
}
