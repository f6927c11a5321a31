package intake

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roderickjackson-bradley/elmgives-api/log"
	"github.com/roderickjackson-bradley/elmgives-api/store"
)

// ProcessName keys the scheduler's run record.
const ProcessName = "roundup"

// defaultConcurrency bounds the number of users processed in parallel.
const defaultConcurrency = 10

const (
	dayFormat   = "2006-01-02"
	monthFormat = "2006-01"
)

// RunRange optionally narrows the date range of a run; both bounds are
// YYYY-MM-DD and clamped strictly before today.
type RunRange struct {
	Gte string
	Lte string
}

// Scheduler selects the eligible users and feeds them to the worker
// with bounded concurrency. Per-user failures are logged and never
// abort the run.
type Scheduler struct {
	store  *store.Store
	worker *Worker
	limit  int
	now    func() time.Time
	log    log.Logger
}

// NewScheduler returns a Scheduler with the default concurrency bound.
func NewScheduler(st *store.Store, w *Worker) *Scheduler {
	return &Scheduler{
		store:  st,
		worker: w,
		limit:  defaultConcurrency,
		now:    time.Now,
		log:    log.New("module", "intake"),
	}
}

// Run executes one scheduler pass over all users and records the run.
func (s *Scheduler) Run(ctx context.Context, override RunRange) error {
	users, err := s.store.Users()
	if err != nil {
		return err
	}
	var (
		now   = s.now().UTC()
		today = now.Format(dayFormat)
		month = now.Format(monthFormat)

		selected, enqueued, failed int64
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, u := range users {
		item, reason, ok := s.workItem(u, today, month, override)
		if !ok {
			s.log.Debug("Skipping user", "userID", u.ID, "reason", reason)
			continue
		}
		atomic.AddInt64(&selected, 1)
		u := u
		g.Go(func() error {
			sent, err := s.worker.Process(ctx, item)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.log.Error("Round-up failed for user", "userID", u.ID, "err", err)
			}
			if sent {
				atomic.AddInt64(&enqueued, 1)
				u.LatestRoundupDate = today
				if err := s.store.WriteUser(u); err != nil {
					s.log.Error("Failed to record round-up date", "userID", u.ID, "err", err)
				}
			}
			// Per-user failures never abort the scheduler.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	run := &store.Run{ID: uuid.NewString(), Process: ProcessName, Last: s.now().UTC()}
	if err := s.store.WriteRun(run); err != nil {
		return err
	}
	s.log.Info("Round-up run complete",
		"users", len(users), "selected", selected, "enqueued", enqueued, "failed", failed)
	return nil
}

// workItem derives one user's work item, or a skip reason.
func (s *Scheduler) workItem(u *store.User, today, month string, override RunRange) (WorkItem, string, bool) {
	if !u.Active {
		return WorkItem{}, "inactive", false
	}
	pledge, ok := u.ActivePledge()
	if !ok {
		return WorkItem{}, "no active pledge", false
	}
	if len(pledge.Addresses) == 0 {
		return WorkItem{}, "no pledge addresses", false
	}
	bankType := "connect"
	if pledge.BankID != "" {
		if b, err := s.store.ReadBank(pledge.BankID); err == nil && b.Type != "" {
			bankType = b.Type
		}
	}
	token := u.AggregatorTokens[bankType]
	if token == "" {
		return WorkItem{}, "no aggregator token", false
	}
	if u.LatestRoundupDate == today {
		return WorkItem{}, "already run today", false
	}
	address := pledge.Addresses[month]
	if address == "" {
		return WorkItem{}, "no address for current month", false
	}

	gte := override.Gte
	if gte == "" {
		gte = u.LatestRoundupDate
	}
	if gte == "" {
		gte = month + "-01"
	}
	return WorkItem{
		UserID:       u.ID,
		Address:      address,
		AccessToken:  token,
		MonthlyLimit: pledge.MonthlyLimit,
		BankType:     bankType,
		Gte:          clampBeforeToday(gte, today),
		Lte:          clampBeforeToday(override.Lte, today),
	}, "", true
}

// clampBeforeToday forces d strictly before today; empty stays empty.
func clampBeforeToday(d, today string) string {
	if d == "" || d < today {
		return d
	}
	t, err := time.Parse(dayFormat, today)
	if err != nil {
		return d
	}
	return t.AddDate(0, 0, -1).Format(dayFormat)
}
