package drainer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/model"
	"slack-intake-go/internal/queue"
	"slack-intake-go/internal/testutil"
)

func enqueue(t *testing.T, s queue.Store, key string) uint64 {
	t.Helper()
	id, err := s.Enqueue(context.Background(), queue.Item{
		EntryType:      "classified",
		IdempotencyKey: key,
		Payload:        []byte(`{}`),
	})
	require.NoError(t, err)
	return id
}

func TestFailFailSucceedWithinCeiling(t *testing.T) {
	ctx := context.Background()
	stores := map[string]queue.Store{
		"gorm":   queue.NewGormStore(testutil.NewDB(t), 0),
		"memory": queue.NewMemoryStore(),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			id := enqueue(t, store, "C1:1")

			attempts := 0
			d := New(store, HandlerFunc(func(context.Context, model.QueueEntry) error {
				attempts++
				if attempts < 3 {
					return errors.New("db timeout")
				}
				return nil
			}), 5, 3, nil)

			for i, want := range []Result{
				{Claimed: 1, Retried: 1},
				{Claimed: 1, Retried: 1},
				{Claimed: 1, Succeeded: 1},
				{},
			} {
				res, err := d.DrainOnce(ctx)
				require.NoError(t, err)
				assert.Equal(t, want, res, "cycle %d", i)
			}

			entry, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 2, entry.RetryCount)
			assert.NotNil(t, entry.ProcessedAt)
			assert.Equal(t, model.QueueStatusDone, entry.Status)
			require.NotNil(t, entry.LastError)
			assert.Equal(t, "db timeout", *entry.LastError)
		})
	}
}

func TestCeilingMakesEntryTerminal(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	id := enqueue(t, store, "C1:1")

	attempts := 0
	d := New(store, HandlerFunc(func(context.Context, model.QueueEntry) error {
		attempts++
		return errors.New("still broken")
	}), 5, 3, nil)

	for i := 0; i < 5; i++ {
		_, err := d.DrainOnce(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, attempts)
	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.RetryCount)
	assert.Equal(t, model.QueueStatusFailed, entry.Status)
	assert.NotNil(t, entry.ProcessedAt)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	id := enqueue(t, store, "C1:1")

	d := New(store, HandlerFunc(func(context.Context, model.QueueEntry) error {
		return errs.Permanent(errors.New("unknown entry type"))
	}), 5, 3, nil)

	res, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Claimed: 1, Failed: 1}, res)

	entry, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
}

func TestOneFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	ids := []uint64{enqueue(t, store, "a"), enqueue(t, store, "b"), enqueue(t, store, "c")}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	d := New(store, HandlerFunc(func(_ context.Context, e model.QueueEntry) error {
		switch e.IdempotencyKey {
		case "b":
			panic("nil listing")
		case "c":
			return errors.New("db timeout")
		}
		return nil
	}), 10, 3, m)

	res, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Claimed: 3, Succeeded: 1, Retried: 2}, res)

	first, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusDone, first.Status)

	second, err := store.Get(ctx, ids[1])
	require.NoError(t, err)
	require.NotNil(t, second.LastError)
	assert.Contains(t, *second.LastError, "handler panic")

	assert.Equal(t, 1.0, promtest.ToFloat64(m.DrainOutcomes.WithLabelValues("success")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.DrainOutcomes.WithLabelValues("retry")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.PendingEntries))
}

func TestBatchSizeBoundsClaim(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	for _, k := range []string{"a", "b", "c"} {
		enqueue(t, store, k)
	}

	d := New(store, HandlerFunc(func(context.Context, model.QueueEntry) error { return nil }), 2, 3, nil)

	res, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)

	res, err = d.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
}

func TestConcurrentDrainersProcessEachEntryOnce(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	for i := 0; i < 30; i++ {
		enqueue(t, store, "k")
	}

	var mu sync.Mutex
	handled := make(map[uint64]int)
	d := New(store, HandlerFunc(func(_ context.Context, e model.QueueEntry) error {
		mu.Lock()
		handled[e.ID]++
		mu.Unlock()
		return nil
	}), 4, 3, nil)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := d.DrainOnce(ctx)
				if !assert.NoError(t, err) || res.Claimed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, handled, 30)
	for id, n := range handled {
		assert.Equal(t, 1, n, "entry %d", id)
	}
}

type failingClaim struct {
	queue.Claim
	rolledBack bool
}

func (c *failingClaim) Complete(context.Context, uint64, error) error {
	return errs.Transient("queue.update", errors.New("connection reset"))
}

func (c *failingClaim) Rollback() error {
	c.rolledBack = true
	return c.Claim.Rollback()
}

type failingStore struct {
	queue.Store
	claim *failingClaim
}

func (s *failingStore) ClaimBatch(ctx context.Context, max int) (queue.Claim, error) {
	inner, err := s.Store.ClaimBatch(ctx, max)
	if err != nil {
		return nil, err
	}
	s.claim = &failingClaim{Claim: inner}
	return s.claim, nil
}

func TestBookkeepingFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	inner := queue.NewMemoryStore()
	id := enqueue(t, inner, "a")
	store := &failingStore{Store: inner}

	d := New(store, HandlerFunc(func(context.Context, model.QueueEntry) error { return nil }), 5, 3, nil)

	_, err := d.DrainOnce(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.True(t, store.claim.rolledBack)

	entry, err := inner.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, entry.Pending())

	// the entry is claimable again
	again, err := inner.ClaimBatch(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, again.Entries(), 1)
	require.NoError(t, again.Rollback())
}

var errLockExpired = errors.New("lock wait timeout exceeded")

// expiringStore hands out claims that refuse bookkeeping once their lock
// window has passed, like a row locked transaction
type expiringStore struct {
	queue.Store
	lockTimeout time.Duration
}

func (s *expiringStore) ClaimBatch(ctx context.Context, max int) (queue.Claim, error) {
	c, err := s.Store.ClaimBatch(ctx, max)
	if err != nil {
		return nil, err
	}
	return &expiringClaim{Claim: c, deadline: time.Now().Add(s.lockTimeout)}, nil
}

type expiringClaim struct {
	queue.Claim
	deadline time.Time
}

func (c *expiringClaim) Deadline() (time.Time, bool) { return c.deadline, true }

func (c *expiringClaim) Complete(ctx context.Context, id uint64, cause error) error {
	if time.Now().After(c.deadline) {
		return errLockExpired
	}
	return c.Claim.Complete(ctx, id, cause)
}

func (c *expiringClaim) Retry(ctx context.Context, id uint64, cause error) error {
	if time.Now().After(c.deadline) {
		return errLockExpired
	}
	return c.Claim.Retry(ctx, id, cause)
}

func (c *expiringClaim) Commit() error {
	if time.Now().After(c.deadline) {
		_ = c.Claim.Rollback()
		return errLockExpired
	}
	return c.Claim.Commit()
}

func TestSlowHandlersStayInsideLockWindow(t *testing.T) {
	ctx := context.Background()
	mem := queue.NewMemoryStore()
	first := enqueue(t, mem, "C1:1")
	second := enqueue(t, mem, "C1:2")
	enqueue(t, mem, "C1:3")
	store := &expiringStore{Store: mem, lockTimeout: 800 * time.Millisecond}

	var handled []uint64
	d := New(store, HandlerFunc(func(ctx context.Context, e model.QueueEntry) error {
		handled = append(handled, e.ID)
		// a classifier call that outlives the claim
		<-ctx.Done()
		return ctx.Err()
	}), 5, 2, nil)

	res, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Claimed: 3, Retried: 1, Deferred: 2}, res)
	assert.Equal(t, []uint64{first}, handled)

	entry, err := mem.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.RetryCount)
	assert.Nil(t, entry.ProcessedAt)

	res, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Claimed: 3, Failed: 1, Deferred: 2}, res)

	entry, err = mem.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, entry.Status)
	assert.Equal(t, 2, entry.RetryCount)

	res, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, []uint64{first, first, second}, handled)
}

func TestUnboundedClaimLeavesHandlerContextAlone(t *testing.T) {
	store := queue.NewMemoryStore()
	enqueue(t, store, "C1:1")

	d := New(store, HandlerFunc(func(ctx context.Context, _ model.QueueEntry) error {
		_, bounded := ctx.Deadline()
		assert.False(t, bounded)
		return nil
	}), 5, 3, nil)

	res, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}
