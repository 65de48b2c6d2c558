// Package broadcast periodically sends the current time to subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/pagebot/internal/commands"
	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/messenger"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
	"github.com/roelfdiedericks/pagebot/internal/store"
)

// DefaultInterval between ticks.
const DefaultInterval = time.Hour

// ErrorReporter receives tick failures.
type ErrorReporter interface {
	ReportError(ctx context.Context, component string, err error)
}

// Config configures a Scheduler
type Config struct {
	Store    store.Store
	Sender   messenger.Sender
	Reporter ErrorReporter // may be nil
	Interval time.Duration
	Location *time.Location
}

// Scheduler fires Tick on a fixed interval for the life of the process.
type Scheduler struct {
	store    store.Store
	sender   messenger.Sender
	reporter ErrorReporter
	interval time.Duration
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	cron    *cronlib.Cron
	entryID cronlib.EntryID
	running bool
}

// New creates a scheduler; call Start to begin ticking.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		store:    cfg.Store,
		sender:   cfg.Sender,
		reporter: cfg.Reporter,
		interval: interval,
		loc:      loc,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins ticking. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	logger := cronLogger{}
	c := cronlib.New(
		cronlib.WithLocation(s.loc),
		cronlib.WithLogger(logger),
		// ticks run independently: a hung tick must not hold back the next one
		cronlib.WithChain(cronlib.Recover(logger)),
	)
	id, err := c.AddFunc("@every "+s.interval.String(), s.run)
	if err != nil {
		return fmt.Errorf("failed to schedule broadcast: %w", err)
	}
	c.Start()

	s.cron = c
	s.entryID = id
	s.running = true
	L_info("broadcast: started", "interval", s.interval, "next", c.Entry(id).Next)
	return nil
}

// Stop halts ticking. The returned context is done once a running tick finishes.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.running = false
	L_info("broadcast: stopping")
	return s.cron.Stop()
}

// Next returns the next scheduled tick, zero when not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// run is the cron job. Nothing it does may stop later ticks. Each tick is
// bounded by one interval.
func (s *Scheduler) run() {
	if IsShuttingDown() {
		L_debug("broadcast: shutting down, skipping tick")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			L_error("broadcast: tick panic", "panic", p)
			s.report(ctx, fmt.Errorf("tick panic: %v\n%s", p, debug.Stack()))
		}
	}()
	if err := s.Tick(ctx); err != nil {
		s.report(ctx, err)
	}
}

// Tick sends the current time to a snapshot of the subscriber set. A failed
// send does not stop the remaining sends; all failures are joined.
func (s *Scheduler) Tick(ctx context.Context) error {
	metrics.BroadcastRuns.Inc()

	subs := s.store.Subscribers()
	if len(subs) == 0 {
		L_debug("broadcast: no subscribers")
		return nil
	}

	text := commands.FormatTime(s.now().In(s.loc))
	var errs []error
	sent := 0
	for _, id := range subs {
		if err := s.sender.Send(ctx, id, text); err != nil {
			metrics.BroadcastSends.WithLabelValues(metrics.ResultError).Inc()
			errs = append(errs, fmt.Errorf("subscriber %s: %w", id, err))
			continue
		}
		metrics.BroadcastSends.WithLabelValues(metrics.ResultOK).Inc()
		sent++
	}

	L_info("broadcast: tick done", "subscribers", len(subs), "sent", sent, "failed", len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("broadcast: %d of %d sends failed: %w", len(errs), len(subs), errors.Join(errs...))
	}
	return nil
}

func (s *Scheduler) report(ctx context.Context, err error) {
	if s.reporter == nil {
		L_error("broadcast: tick failed", "error", err)
		return
	}
	s.reporter.ReportError(ctx, "broadcast", err)
}

// cronLogger routes robfig/cron's logging through L_*.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	L_trace("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	L_error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
