package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/pagebot/internal/messenger/messengertest"
	"github.com/roelfdiedericks/pagebot/internal/metrics"
	"github.com/roelfdiedericks/pagebot/internal/store"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportError(_ context.Context, component string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if component == "broadcast" {
		r.errs = append(r.errs, err)
	}
}

func newScheduler(t *testing.T, subs []string, failFor ...string) (*Scheduler, *messengertest.Recorder, *recordingReporter) {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	for _, id := range subs {
		require.NoError(t, st.Subscribe(id))
	}
	rec := messengertest.NewRecorder(failFor...)
	rep := &recordingReporter{}
	s := New(Config{Store: st, Sender: rec, Reporter: rep, Location: time.UTC})
	s.SetClock(func() time.Time { return time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC) })
	return s, rec, rep
}

func TestTickSendsTimeToEverySubscriber(t *testing.T) {
	s, rec, _ := newScheduler(t, []string{"B", "A"})

	require.NoError(t, s.Tick(context.Background()))

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "🕒 Current time: Tue, 05 Mar 2024 14:00:00 UTC", m.Text)
	}
	assert.ElementsMatch(t, []string{"A", "B"}, []string{msgs[0].RecipientID, msgs[1].RecipientID})
}

func TestTickContinuesAfterFailure(t *testing.T) {
	s, rec, _ := newScheduler(t, []string{"A", "B"}, "A")
	okBefore := testutil.ToFloat64(metrics.BroadcastSends.WithLabelValues(metrics.ResultOK))
	errBefore := testutil.ToFloat64(metrics.BroadcastSends.WithLabelValues(metrics.ResultError))

	err := s.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, messengertest.ErrInjected))
	assert.Contains(t, err.Error(), "subscriber A")

	assert.Len(t, rec.To("A"), 1)
	assert.Len(t, rec.To("B"), 1)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.BroadcastSends.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(metrics.BroadcastSends.WithLabelValues(metrics.ResultError)))
}

func TestTickNoSubscribers(t *testing.T) {
	s, rec, _ := newScheduler(t, nil)
	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, rec.Messages())
}

func TestRunReportsFailures(t *testing.T) {
	s, _, rep := newScheduler(t, []string{"A", "B"}, "A")

	s.run()
	require.Len(t, rep.errs, 1)
	assert.Contains(t, rep.errs[0].Error(), "1 of 2 sends failed")
}

type panicSender struct{}

func (panicSender) Send(context.Context, string, string) error { panic("transport exploded") }

func TestRunRecoversPanic(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	require.NoError(t, st.Subscribe("A"))
	rep := &recordingReporter{}
	s := New(Config{Store: st, Sender: panicSender{}, Reporter: rep})

	assert.NotPanics(t, s.run)
	require.Len(t, rep.errs, 1)
	assert.Contains(t, rep.errs[0].Error(), "transport exploded")

	// a later tick still runs
	assert.NotPanics(t, s.run)
	assert.Len(t, rep.errs, 2)
}

func TestStartStop(t *testing.T) {
	s, _, _ := newScheduler(t, nil)
	assert.Equal(t, DefaultInterval, s.Interval())
	assert.True(t, s.Next().IsZero())

	before := time.Now()
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	next := s.Next()
	assert.WithinDuration(t, before.Add(time.Hour), next, 5*time.Second)

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not complete")
	}
	assert.True(t, s.Next().IsZero())

	// stopping twice is harmless
	<-s.Stop().Done()
}

func TestStartFiresTicks(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	require.NoError(t, st.Subscribe("A"))
	rec := messengertest.NewRecorder()
	s := New(Config{Store: st, Sender: rec, Interval: time.Second})

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(rec.To("A")) >= 1 }, 5*time.Second, 50*time.Millisecond)
}

// stallingSender blocks the first send until released and records the rest.
type stallingSender struct {
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *stallingSender) Send(ctx context.Context, _, _ string) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		<-s.release
	}
	return nil
}

func (s *stallingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestHungTickDoesNotStopLaterTicks(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	require.NoError(t, st.Subscribe("A"))
	sender := &stallingSender{release: make(chan struct{})}
	t.Cleanup(func() { close(sender.release) })

	s := New(Config{Store: st, Sender: sender, Interval: time.Second})
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return sender.Calls() >= 3 }, 6*time.Second, 50*time.Millisecond)
}

func TestRunBoundsTickByInterval(t *testing.T) {
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	require.NoError(t, st.Subscribe("A"))
	rep := &recordingReporter{}
	s := New(Config{Store: st, Sender: ctxSender{}, Reporter: rep, Interval: 50 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		s.run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not bounded")
	}
	require.Len(t, rep.errs, 1)
	assert.True(t, errors.Is(rep.errs[0], context.DeadlineExceeded))
}

// ctxSender waits for the context like a stalled HTTP call would.
type ctxSender struct{}

func (ctxSender) Send(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
