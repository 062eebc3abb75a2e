package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInbox() (*Inbox, *MemoryStore, *time.Time) {
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	store := NewMemoryStore()
	store.now = now
	inbox := New(store, Config{TTL: time.Hour, RecoveryTimeout: time.Minute}, nil)
	inbox.now = now
	return inbox, store, &clock
}

func TestProcessRunsOnce(t *testing.T) {
	inbox, _, _ := newTestInbox()
	ctx := context.Background()
	key := Key("print-spooler", "evt-1")

	calls := 0
	fn := func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"file":"a.pdf"}`), nil
	}

	first, err := inbox.Process(ctx, key, "print-spooler", nil, fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.False(t, first.Duplicate)

	second, err := inbox.Process(ctx, key, "print-spooler", nil, fn)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.JSONEq(t, `{"file":"a.pdf"}`, string(second.Output))
	assert.Equal(t, 1, calls)
}

func TestProcessRetriesRecoverableFailure(t *testing.T) {
	inbox, _, _ := newTestInbox()
	ctx := context.Background()
	key := Key("print-spooler", "evt-2")

	_, err := inbox.Process(ctx, key, "print-spooler", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("disk full")
	})
	require.EqualError(t, err, "disk full")

	res, err := inbox.Process(ctx, key, "print-spooler", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
	assert.False(t, res.IsNew)
}

func TestProcessTerminalFailureIsFinal(t *testing.T) {
	inbox, _, _ := newTestInbox()
	ctx := context.Background()
	key := Key("print-spooler", "evt-3")

	_, err := inbox.Process(ctx, key, "print-spooler", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Terminal(errors.New("malformed event"))
	})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	_, err = inbox.Process(ctx, key, "print-spooler", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("handler must not run again")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestProcessInProgressAndStaleRecovery(t *testing.T) {
	inbox, store, clock := newTestInbox()
	ctx := context.Background()
	key := Key("print-spooler", "evt-4")

	require.NoError(t, store.Begin(ctx, key, "print-spooler", nil, clock.Add(time.Hour)))

	_, err := inbox.Process(ctx, key, "print-spooler", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)

	*clock = clock.Add(2 * time.Minute)
	res, err := inbox.Process(ctx, key, "print-spooler", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
}

func TestRecoverStaleAndCleanup(t *testing.T) {
	inbox, store, clock := newTestInbox()
	ctx := context.Background()

	require.NoError(t, store.Begin(ctx, "a", "h", nil, clock.Add(time.Hour)))
	require.NoError(t, store.Begin(ctx, "b", "h", nil, clock.Add(3*time.Hour)))

	*clock = clock.Add(2 * time.Minute)
	n, err := inbox.RecoverStaleEntries(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	*clock = clock.Add(2 * time.Hour)
	n, err = inbox.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stats, err := inbox.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEntries)
	assert.EqualValues(t, 1, stats.Recoverable)
}

func TestKeyIsStablePerHandler(t *testing.T) {
	assert.Equal(t, Key("h", "e"), Key("h", "e"))
	assert.NotEqual(t, Key("h", "e"), Key("other", "e"))
	assert.Len(t, Key("h", "e"), 64)
	assert.Nil(t, Terminal(nil))
}
