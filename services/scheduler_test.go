package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
)

func TestSchedulerRegistersAllJobs(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	s := NewRankingScheduler(svc)

	if got := len(s.cron.Entries()); got != 4 {
		t.Errorf("registered jobs = %d, want 4", got)
	}
}

func TestWrapContainsPanics(t *testing.T) {
	svc, archive, _, _ := newTestService(t)
	s := NewRankingScheduler(svc)
	ctx := context.Background()

	svc.AwardScore(ctx, uuid.New(), 10, "cert")

	// A panicking job is logged and contained; it must not take down the
	// process or starve its sibling jobs.
	s.wrap("explode", func(context.Context) error { panic("boom") })()

	s.wrap("alltime-sync", s.syncAllTime)()

	found := false
	for _, row := range archive.rows {
		if row.PeriodType == period.AllTime {
			found = true
		}
	}
	if !found {
		t.Error("all-time sync did not run after a sibling job panicked")
	}
}

func TestWrapAppliesJobTimeout(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	s := NewRankingScheduler(svc)

	sawDeadline := false
	s.wrap("noop", func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})()

	if !sawDeadline {
		t.Error("job context carries no deadline")
	}
}

func TestIsLastDayOfMonth(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
		day   int
		want  bool
	}{
		{2026, time.January, 31, true},
		{2026, time.January, 30, false},
		{2026, time.February, 28, true},
		{2024, time.February, 28, false},
		{2024, time.February, 29, true},
		{2026, time.April, 30, true},
		{2026, time.December, 31, true},
		{2026, time.December, 1, false},
	}

	for _, c := range cases {
		now := time.Date(c.year, c.month, c.day, 23, 50, 0, 0, time.UTC)
		if got := isLastDayOfMonth(now); got != c.want {
			t.Errorf("isLastDayOfMonth(%04d-%02d-%02d) = %v, want %v", c.year, c.month, c.day, got, c.want)
		}
	}
}

func TestMonthlyArchiveRunsOnlyOnLastDay(t *testing.T) {
	svc, archive, _, _ := newTestService(t)
	s := NewRankingScheduler(svc)
	ctx := context.Background()

	svc.AwardScore(ctx, uuid.New(), 40, "cert")

	if err := s.archiveMonthly(ctx); err != nil {
		t.Fatalf("archiveMonthly failed: %v", err)
	}

	// The cron spec fires on days 28-31; mid-month the guard makes the job a
	// no-op, on the month's actual last day it archives.
	wantRows := 0
	if isLastDayOfMonth(time.Now()) {
		wantRows = 1
	}
	if len(archive.rows) != wantRows {
		t.Errorf("archive holds %d rows after monthly job, want %d", len(archive.rows), wantRows)
	}
}
