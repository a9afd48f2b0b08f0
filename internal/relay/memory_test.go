package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed: %v", sub.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryMailbox_PointOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMailbox()
	path := DebtNotificationPath("bob", "d1")

	_, err := m.Get(ctx, path)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, path, json.RawMessage(`{"debtId":"d1","isProcessed":false}`)))
	require.NoError(t, m.Update(ctx, path, map[string]any{"isProcessed": true}))

	got, err := m.Get(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"debtId":"d1","isProcessed":true}`, string(got))

	assert.ErrorIs(t, m.Update(ctx, DebtNotificationPath("bob", "missing"), map[string]any{"x": 1}), ErrNotFound)
	assert.ErrorIs(t, m.Put(ctx, path, json.RawMessage(`{`)), ErrMalformed)
	assert.ErrorIs(t, m.Put(ctx, "users//x", json.RawMessage(`{}`)), ErrInvalidPath)

	require.NoError(t, m.Delete(ctx, path))
	require.NoError(t, m.Delete(ctx, path))
	_, err = m.Get(ctx, path)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryMailbox_SubscribeReplaysThenStreams(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMailbox()
	subtree := DebtNotificationsPath("bob")

	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, m.Put(ctx, subtree+"/"+key, json.RawMessage(`{"k":"`+key+`"}`)))
	}
	// Other subtrees are not observed.
	require.NoError(t, m.Put(ctx, SettlementNotificationPath("bob", "x"), json.RawMessage(`{}`)))
	require.NoError(t, m.Put(ctx, DebtNotificationPath("carol", "y"), json.RawMessage(`{}`)))

	sub, err := m.Subscribe(ctx, subtree)
	require.NoError(t, err)
	defer sub.Close()

	for _, key := range []string{"c", "a", "b"} {
		ev := nextEvent(t, sub)
		assert.Equal(t, EventAdded, ev.Kind)
		assert.Equal(t, key, ev.Key)
	}

	require.NoError(t, m.Put(ctx, subtree+"/d", json.RawMessage(`{}`)))
	require.NoError(t, m.Update(ctx, subtree+"/a", map[string]any{"isProcessed": true}))
	require.NoError(t, m.Delete(ctx, subtree+"/c"))

	ev := nextEvent(t, sub)
	assert.Equal(t, EventAdded, ev.Kind)
	assert.Equal(t, "d", ev.Key)

	ev = nextEvent(t, sub)
	assert.Equal(t, EventChanged, ev.Kind)
	assert.Equal(t, "a", ev.Key)
	assert.JSONEq(t, `{"k":"a","isProcessed":true}`, string(ev.Value))

	ev = nextEvent(t, sub)
	assert.Equal(t, EventRemoved, ev.Kind)
	assert.Equal(t, subtree+"/c", ev.Path)
}

func TestMemoryMailbox_CloseEndsFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemoryMailbox()

	sub, err := m.Subscribe(ctx, DebtNotificationsPath("bob"))
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after cancel")
	}
	assert.NoError(t, sub.Err())
	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Writes after the watcher is gone must not block.
	require.NoError(t, m.Put(context.Background(), DebtNotificationPath("bob", "late"), json.RawMessage(`{}`)))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "users/u1/debt_notifications/d1", DebtNotificationPath("u1", "d1"))
	assert.Equal(t, "users/u1/settlement_notifications/p1", SettlementNotificationPath("u1", "p1"))
	assert.Equal(t, "u1", Owner("users/u1/debt_notifications/d1"))
	assert.Equal(t, "", Owner("groups/g1"))
	assert.True(t, IsNotificationPath("users/u1/debt_notifications/d1"))
	assert.False(t, IsNotificationPath("users/u1/debt_notifications"))
	assert.False(t, IsNotificationPath("users/u1/profile/x"))

	p, err := CleanPath("/users/u1/")
	require.NoError(t, err)
	assert.Equal(t, "users/u1", p)
	_, err = CleanPath("users/../admin")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
