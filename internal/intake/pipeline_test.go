package intake

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"slack-intake-go/internal/debounce"
	"slack-intake-go/internal/dedup"
	"slack-intake-go/internal/drainer"
	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/model"
	"slack-intake-go/internal/queue"
	"slack-intake-go/internal/signature"
	"slack-intake-go/internal/testutil"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pipeline struct {
	db         *gorm.DB
	clock      *clock
	service    *Service
	buffer     *debounce.Buffer
	queue      *queue.MemoryStore
	drainer    *drainer.Drainer
	classifier *fakeClassifier
}

func newPipeline(t *testing.T, window time.Duration) *pipeline {
	t.Helper()
	conn := testutil.NewDB(t)
	clk := &clock{now: time.Unix(1730550000, 0)}
	fc := &fakeClassifier{result: strayResult()}
	q := queue.NewMemoryStore()

	buffer := debounce.NewBuffer(debounce.NewMemoryStore(), NewFlushSink(fc, q, 0.6, nil), window, debounce.WithClock(clk.Now))
	verifier := signature.NewVerifier(testSecret, signature.WithClock(clk.Now))

	return &pipeline{
		db:         conn,
		clock:      clk,
		service:    NewService(verifier, dedup.NewGormStore(conn), buffer, nil),
		buffer:     buffer,
		queue:      q,
		drainer:    drainer.New(q, NewProcessor(fc, NewGormIngestor(conn), 0.6, nil), 5, 3, nil),
		classifier: fc,
	}
}

func TestDuplicateDeliveryYieldsOneClassification(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 30*time.Second)

	body := messageBody(t, "evt-42", "C1", "U1", "1730550000.000100", "please order a lockbox for 12 Oak St")
	for i := 0; i < 2; i++ {
		_, err := p.service.HandleWebhook(ctx, body, signedHeader(body, p.clock.Now()))
		require.NoError(t, err)
	}

	p.clock.Advance(31 * time.Second)
	flushed, err := p.buffer.Tick(ctx, p.clock.Now())
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0].Events, 1)
	p.buffer.Wait()

	assert.Equal(t, 1, p.classifier.Calls())

	res, err := p.drainer.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, drainer.Result{Claimed: 1, Succeeded: 1}, res)

	var tasks int64
	require.NoError(t, p.db.Model(&model.AgentTask{}).Count(&tasks).Error)
	assert.Equal(t, int64(1), tasks)
}

func TestBurstIsClassifiedAsOneBatch(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 30*time.Second)

	for i := 0; i < 3; i++ {
		if i > 0 {
			p.clock.Advance(10 * time.Second)
		}
		ts := fmt.Sprintf("%d.000100", p.clock.Now().Unix())
		body := messageBody(t, fmt.Sprintf("evt-%d", i), "C1", "U1", ts, fmt.Sprintf("message number %d about 12 Oak St", i))
		resp, err := p.service.HandleWebhook(ctx, body, signedHeader(body, p.clock.Now()))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAccepted, resp.Outcome)
	}

	// deadline is 30s after the first message, not the last
	p.clock.Advance(10 * time.Second)
	flushed, err := p.buffer.Tick(ctx, p.clock.Now())
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0].Events, 3)
	p.buffer.Wait()

	require.Len(t, p.classifier.inputs, 1)
	assert.Len(t, p.classifier.inputs[0].Messages, 3)
}

func TestClassifierOutageIsRetriedByDrainer(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, 0)
	p.classifier.err = fmt.Errorf("%w: upstream 503", errs.ErrClassification)

	body := messageBody(t, "evt-1", "C1", "U1", "1730550000.000100", "please order a lockbox for 12 Oak St")
	_, err := p.service.HandleWebhook(ctx, body, signedHeader(body, p.clock.Now()))
	require.NoError(t, err)
	p.buffer.Wait()

	res, err := p.drainer.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	p.classifier.mu.Lock()
	p.classifier.err = nil
	p.classifier.mu.Unlock()

	res, err = p.drainer.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	entries, _, err := p.queue.List(ctx, queue.Filter{Status: model.QueueStatusDone})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EntryBatch, entries[0].EntryType)
	assert.Equal(t, 1, entries[0].RetryCount)
}
