package members

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/pagebot/internal/messenger/messengertest"
	"github.com/roelfdiedericks/pagebot/internal/store"
)

func newRegistrar(t *testing.T, failFor ...string) (*Registrar, *store.FileStore, *messengertest.Recorder) {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "bot_db.json"))
	rec := messengertest.NewRecorder(failFor...)
	return NewRegistrar(st, rec, "PageBot"), st, rec
}

func TestRegisterFirstContactSendsTwoWelcomes(t *testing.T) {
	r, st, rec := newRegistrar(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return at })

	reg, err := r.Register(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, reg.Created)
	assert.Equal(t, 1, reg.Ordinal)

	texts := rec.To("U1")
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Welcome")
	assert.Contains(t, texts[0], "PageBot")
	assert.Contains(t, texts[1], "1st")

	m, ok := st.Member("U1")
	require.True(t, ok)
	assert.True(t, at.Equal(m.FirstSeen))
}

func TestRegisterOrdinalIsMemberCount(t *testing.T) {
	r, st, rec := newRegistrar(t)
	ctx := context.Background()

	for _, id := range []string{"U1", "U2", "U3"} {
		_, err := r.Register(ctx, id)
		require.NoError(t, err)
	}

	texts := rec.To("U3")
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "3rd")
	assert.Equal(t, 3, st.MemberCount())
}

func TestRegisterKnownSenderIsNoop(t *testing.T) {
	r, st, rec := newRegistrar(t)
	ctx := context.Background()

	_, err := r.Register(ctx, "U1")
	require.NoError(t, err)
	rec.Reset()

	reg, err := r.Register(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, reg.Created)
	assert.Empty(t, rec.Messages())
	assert.Equal(t, 1, st.MemberCount())
}

func TestRegisterWelcomeFailureStillRegisters(t *testing.T) {
	r, st, rec := newRegistrar(t, "U1")

	reg, err := r.Register(context.Background(), "U1")
	assert.Error(t, err)
	assert.True(t, reg.Created)
	// both welcomes were attempted
	assert.Len(t, rec.To("U1"), 2)

	_, ok := st.Member("U1")
	assert.True(t, ok)
}

func TestRegisterFlushFailureIsReturned(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	st := store.Open(filepath.Join(blocker, "bot_db.json"))
	rec := messengertest.NewRecorder()
	r := NewRegistrar(st, rec, "PageBot")

	reg, err := r.Register(context.Background(), "U1")
	assert.Error(t, err)
	assert.True(t, reg.Created)
	assert.Len(t, rec.To("U1"), 2)
}

func TestConcurrentFirstContactWelcomesOnce(t *testing.T) {
	r, st, rec := newRegistrar(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock("U1")
			defer unlock()
			_, err := r.Register(ctx, "U1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, rec.To("U1"), 2)
	assert.Equal(t, 1, st.MemberCount())
	assert.Equal(t, 0, r.locks.size())
}

func TestLockSerializesPerSender(t *testing.T) {
	r, _, _ := newRegistrar(t)

	unlock := r.Lock("U1")
	acquired := make(chan struct{})
	go func() {
		u := r.Lock("U1")
		close(acquired)
		u()
	}()

	// a different sender never contends
	other := r.Lock("U2")
	other()

	select {
	case <-acquired:
		t.Fatal("second lock for the same sender acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}

	// unlock is idempotent
	unlock()
}
