package services

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SeoHyeokGyu/planit-sub001/internal/period"
)

const (
	allTimeSyncLimit = 1000
	archiveSyncLimit = 1000
	backupSyncLimit  = 500
	jobTimeout       = 5 * time.Minute
)

// RankingScheduler owns the four reconciliation jobs. Every job is a pure
// caller of the ranking service's public sync and key-derivation methods;
// none of them reach into the score store directly. Jobs never re-increment,
// they only re-read current state, so an overlapping run could not
// double-count even without the skip-if-running guard.
type RankingScheduler struct {
	service *RankingService
	cron    *cron.Cron
}

func NewRankingScheduler(service *RankingService) *RankingScheduler {
	s := &RankingScheduler{
		service: service,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}

	// Daily full sync of the all-time board, which has no TTL-driven archive point.
	s.add("30 3 * * *", "alltime-sync", s.syncAllTime)
	// Final weekly standings, captured just before the ISO week rolls over.
	s.add("50 23 * * 0", "weekly-archive", s.archiveWeekly)
	// Final monthly standings; the guard below fires only on the month's last day.
	s.add("50 23 28-31 * *", "monthly-archive", s.archiveMonthly)
	// Daily safety backup of the live weekly and monthly boards, a defense
	// against cache data loss between rollovers.
	s.add("0 4 * * *", "daily-backup", s.backupCurrent)

	return s
}

func (s *RankingScheduler) Start() {
	s.cron.Start()
	log.Println("RankingScheduler: started")
}

// Stop halts the triggers and waits for any running job to finish.
func (s *RankingScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("RankingScheduler: stopped")
}

func (s *RankingScheduler) add(spec, name string, job func(ctx context.Context) error) {
	if _, err := s.cron.AddFunc(spec, s.wrap(name, job)); err != nil {
		log.Fatalf("RankingScheduler: invalid schedule for %s: %v", name, err)
	}
}

// wrap fault-isolates one job: a panic or error is logged with its stack and
// never reaches the other jobs or the request path.
func (s *RankingScheduler) wrap(name string, job func(ctx context.Context) error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("RankingScheduler: %s panicked: %v\n%s", name, r, debug.Stack())
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		log.Printf("RankingScheduler: %s starting", name)
		if err := job(ctx); err != nil {
			log.Printf("RankingScheduler: %s failed: %v", name, err)
		}
	}
}

func (s *RankingScheduler) syncAllTime(ctx context.Context) error {
	n, err := s.service.SyncToDatabase(ctx, period.AllTime, period.AllTimeKey, allTimeSyncLimit)
	if err != nil {
		return err
	}
	log.Printf("RankingScheduler: alltime-sync wrote %d rows", n)
	return nil
}

func (s *RankingScheduler) archiveWeekly(ctx context.Context) error {
	key := s.service.CurrentWeekKey()
	n, err := s.service.SyncToDatabase(ctx, period.Weekly, key, archiveSyncLimit)
	if err != nil {
		return err
	}
	log.Printf("RankingScheduler: weekly-archive wrote %d rows for %s", n, key)
	return nil
}

// isLastDayOfMonth reports whether now falls on the final calendar day of its
// month, across 28, 29, 30 and 31 day months.
func isLastDayOfMonth(now time.Time) bool {
	return now.AddDate(0, 0, 1).Day() == 1
}

func (s *RankingScheduler) archiveMonthly(ctx context.Context) error {
	// The cron spec fires on days 28-31; only the actual last day counts.
	if !isLastDayOfMonth(time.Now()) {
		return nil
	}

	key := s.service.CurrentMonthKey()
	n, err := s.service.SyncToDatabase(ctx, period.Monthly, key, archiveSyncLimit)
	if err != nil {
		return err
	}
	log.Printf("RankingScheduler: monthly-archive wrote %d rows for %s", n, key)
	return nil
}

func (s *RankingScheduler) backupCurrent(ctx context.Context) error {
	weekKey := s.service.CurrentWeekKey()
	wn, werr := s.service.SyncToDatabase(ctx, period.Weekly, weekKey, backupSyncLimit)
	if werr != nil {
		log.Printf("RankingScheduler: daily-backup weekly sync failed: %v", werr)
	} else {
		log.Printf("RankingScheduler: daily-backup wrote %d weekly rows for %s", wn, weekKey)
	}

	monthKey := s.service.CurrentMonthKey()
	mn, merr := s.service.SyncToDatabase(ctx, period.Monthly, monthKey, backupSyncLimit)
	if merr != nil {
		log.Printf("RankingScheduler: daily-backup monthly sync failed: %v", merr)
	} else {
		log.Printf("RankingScheduler: daily-backup wrote %d monthly rows for %s", mn, monthKey)
	}

	if werr != nil {
		return werr
	}
	return merr
}
