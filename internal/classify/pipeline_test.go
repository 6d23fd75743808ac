package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elie-6/AI-Email-Parsing-API/internal/classifier"
	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store/sqlite"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store/storetest"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/retry"
)

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

type reply struct {
	out string
	err error
}

// scriptedClassifier 按 subject 返回预设的回复序列，用完后重复最后一个
type scriptedClassifier struct {
	replies map[string][]reply
	calls   map[string]int
	order   []string
	onCall  func()
}

func newScripted() *scriptedClassifier {
	return &scriptedClassifier{replies: map[string][]reply{}, calls: map[string]int{}}
}

func (c *scriptedClassifier) on(subject string, r ...reply) {
	c.replies[subject] = r
}

func (c *scriptedClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	if c.onCall != nil {
		c.onCall()
	}
	for subject, rs := range c.replies {
		if strings.Contains(prompt, "Email subject: "+subject+"\n") {
			c.calls[subject]++
			c.order = append(c.order, subject)
			i := c.calls[subject] - 1
			if i >= len(rs) {
				i = len(rs) - 1
			}
			return rs[i].out, rs[i].err
		}
	}
	return "", fmt.Errorf("no script for prompt")
}

func (c *scriptedClassifier) Version() string { return "gpt-test-1" }

type fixture struct {
	store    *sqlite.Store
	cls      *scriptedClassifier
	sleeps   []time.Duration
	pipeline *Pipeline
	account  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: storetest.NewStore(t), cls: newScripted()}
	policy := retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second, Sleep: func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}}
	f.pipeline = NewPipeline(f.store, f.cls, policy, zap.NewNop())
	f.account = storetest.SeedAccount(t, f.store, storetest.SeedTenant(t, f.store, "Acme", "ops@acme.test"), []byte(`{}`))
	return f
}

func (f *fixture) seed(t *testing.T, subject string, offset time.Duration) *model.Item {
	return storetest.SeedItem(t, f.store, f.account, "ext-"+subject, subject, t0.Add(offset))
}

func (f *fixture) status(t *testing.T, id int64) model.ItemStatus {
	item, err := f.store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Status
}

func transientErr() error {
	return fmt.Errorf("%w: status code: 503", classifier.ErrTransient)
}

func TestRunBatch_DoneStoresResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.seed(t, "Quote", 0)
	f.cls.on("Quote", reply{out: `{"category":"lead","intent":"request","urgency":"high","summary":"Wants a quote"}`})

	res, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Succeeded: 1}, res)

	assert.Equal(t, model.ItemDone, f.status(t, item.ID))
	result, err := f.store.GetResult(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "lead", result.Category)
	assert.Equal(t, 90, result.Confidence)
	assert.Equal(t, "gpt-test-1", result.ModelVersion)

	got, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-test-1", got.ParseVersion)
}

func TestRunBatch_SpamHasNoResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.seed(t, "WIN", 0)
	f.cls.on("WIN", reply{out: `{"category": "spam"}`})

	res, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Succeeded: 1, Spam: 1}, res)
	assert.Equal(t, model.ItemSpam, f.status(t, item.ID))

	_, err = f.store.GetResult(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunBatch_EmbeddedJSON(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.seed(t, "Invoice", 0)
	f.cls.on("Invoice", reply{out: "Here you go:\n{\"category\":\"billing\",\"confidence\":65}\nThanks!"})

	_, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, model.ItemDone, f.status(t, item.ID))
	result, err := f.store.GetResult(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing", result.Category)
	assert.Equal(t, 65, result.Confidence)
}

func TestRunBatch_TransientThenSuccess(t *testing.T) {
	f := newFixture(t)
	item := f.seed(t, "Flaky", 0)
	f.cls.on("Flaky", reply{err: transientErr()}, reply{out: `{"category":"support"}`})

	res, err := f.pipeline.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, f.cls.calls["Flaky"])
	assert.Equal(t, []time.Duration{2 * time.Second}, f.sleeps)
	assert.Equal(t, model.ItemDone, f.status(t, item.ID))
}

func TestRunBatch_TransientExhaustedFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.seed(t, "Down", 0)
	f.cls.on("Down", reply{err: transientErr()})

	res, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Failed: 1}, res)
	assert.Equal(t, 3, f.cls.calls["Down"])
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.sleeps)
	assert.Equal(t, model.ItemFailed, f.status(t, item.ID))

	_, err = f.store.GetResult(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunBatch_PermanentErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	item := f.seed(t, "BadKey", 0)
	f.cls.on("BadKey", reply{err: errors.New("status code: 401, invalid api key")})

	res, err := f.pipeline.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, f.cls.calls["BadKey"])
	assert.Empty(t, f.sleeps)
	assert.Equal(t, model.ItemFailed, f.status(t, item.ID))
}

func TestRunBatch_UnparseableOutputFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	noJSON := f.seed(t, "Prose", 0)
	noCategory := f.seed(t, "NoCat", time.Minute)
	f.cls.on("Prose", reply{out: "This looks like a sales lead."})
	f.cls.on("NoCat", reply{out: `{"intent":"request"}`})

	res, err := f.pipeline.RunBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, f.cls.calls["Prose"])
	assert.Equal(t, 1, f.cls.calls["NoCat"])
	assert.Equal(t, model.ItemFailed, f.status(t, noJSON.ID))
	assert.Equal(t, model.ItemFailed, f.status(t, noCategory.ID))
}

func TestRunBatch_OldestFirstAndLimit(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "C", 2*time.Hour)
	f.seed(t, "A", 0)
	late := f.seed(t, "B", time.Hour)
	for _, s := range []string{"A", "B", "C"} {
		f.cls.on(s, reply{out: `{"category":"lead"}`})
	}

	res, err := f.pipeline.RunBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{"A", "B"}, f.cls.order)
	assert.Equal(t, model.ItemDone, f.status(t, late.ID))

	pending, err := f.store.ListItemsByStatus(context.Background(), model.ItemPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "C", pending[0].Subject)
}

func TestRunBatch_TerminalItemsAreNeverTouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := storetest.SeedDoneItem(t, f.store, f.account, "ext-done", "Done", t0)
	f.cls.on("Done", reply{out: `{"category":"spam"}`})

	res, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)
	assert.Zero(t, f.cls.calls["Done"])
	assert.Equal(t, model.ItemDone, f.status(t, done.ID))
}

func TestRunBatch_FailedItemsStayFailedUntilRequeued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.seed(t, "Retry", 0)
	f.cls.on("Retry", reply{out: "garbage"}, reply{out: `{"category":"lead"}`})

	_, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.ItemFailed, f.status(t, item.ID))

	res, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res, "failed items are not retried automatically")

	n, err := f.pipeline.Requeue(ctx, []int64{item.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err = f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, model.ItemDone, f.status(t, item.ID))
}

func TestRunBatch_StopsBeforeNextItemOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := f.seed(t, "One", 0)
	second := f.seed(t, "Two", time.Minute)
	f.cls.on("One", reply{out: `{"category":"lead"}`})
	f.cls.on("Two", reply{out: `{"category":"lead"}`})
	f.cls.onCall = cancel

	res, err := f.pipeline.RunBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, model.ItemDone, f.status(t, first.ID))
	assert.Equal(t, model.ItemPending, f.status(t, second.ID))
}

func TestRunBatch_CancelDuringRetryReleasesItem(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item := f.seed(t, "Slow", 0)
	f.cls.on("Slow", reply{err: transientErr()})
	f.cls.onCall = cancel

	_, err := f.pipeline.RunBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.ItemPending, f.status(t, item.ID))
}

func TestRunBatch_ResultExistsIffDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "L", 0)
	f.seed(t, "S", time.Second)
	f.seed(t, "F", 2*time.Second)
	f.cls.on("L", reply{out: `{"category":"lead"}`})
	f.cls.on("S", reply{out: `{"category":"Spam"}`})
	f.cls.on("F", reply{out: `nope`})

	_, err := f.pipeline.RunBatch(ctx, 10)
	require.NoError(t, err)

	for _, status := range []model.ItemStatus{model.ItemDone, model.ItemSpam, model.ItemFailed} {
		items, err := f.store.ListItemsByStatus(ctx, status)
		require.NoError(t, err)
		require.Len(t, items, 1, status)
		_, err = f.store.GetResult(ctx, items[0].ID)
		if status == model.ItemDone {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, store.ErrNotFound)
		}
	}
}
