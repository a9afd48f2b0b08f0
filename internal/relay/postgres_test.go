package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresMailbox(t *testing.T) *PostgresMailbox {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	m, err := NewPostgresMailbox(dsn)
	require.NoError(t, err)
	m.tableName = fmt.Sprintf("relay_entries_test_%d", time.Now().UnixNano())
	m.pollInterval = 20 * time.Millisecond
	t.Cleanup(func() {
		if m.db != nil {
			_, _ = m.db.Exec("DROP TABLE IF EXISTS " + m.table())
			_, _ = m.db.Exec("DROP SEQUENCE IF EXISTS " + m.sequence())
		}
		_ = m.Close()
	})
	return m
}

func TestNewPostgresMailbox_RejectsEmptyDSN(t *testing.T) {
	_, err := NewPostgresMailbox("  ")
	assert.Error(t, err)
}

func TestPostgresMailbox_Integration(t *testing.T) {
	m := newTestPostgresMailbox(t)
	ctx := context.Background()
	user := uuid.NewString()
	subtree := DebtNotificationsPath(user)

	require.NoError(t, m.Put(ctx, subtree+"/b", json.RawMessage(`{"k":"b"}`)))
	require.NoError(t, m.Put(ctx, subtree+"/a", json.RawMessage(`{"k":"a"}`)))

	got, err := m.Get(ctx, subtree+"/a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"a"}`, string(got))

	sub, err := m.Subscribe(ctx, subtree)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, "b", nextEvent(t, sub).Key)
	assert.Equal(t, "a", nextEvent(t, sub).Key)

	require.NoError(t, m.Update(ctx, subtree+"/a", map[string]any{"isProcessed": true}))
	ev := nextEvent(t, sub)
	assert.Equal(t, EventChanged, ev.Kind)
	assert.JSONEq(t, `{"k":"a","isProcessed":true}`, string(ev.Value))

	require.NoError(t, m.Delete(ctx, subtree+"/b"))
	ev = nextEvent(t, sub)
	assert.Equal(t, EventRemoved, ev.Kind)
	assert.Equal(t, "b", ev.Key)

	_, err = m.Get(ctx, subtree+"/b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, subtree+"/c", json.RawMessage(`{}`)))
	ev = nextEvent(t, sub)
	assert.Equal(t, EventAdded, ev.Kind)
	assert.Equal(t, "c", ev.Key)
}

func TestPostgresMailbox_ConcurrentWritersReachFeed(t *testing.T) {
	m := newTestPostgresMailbox(t)
	ctx := context.Background()
	subtree := SettlementNotificationsPath(uuid.NewString())

	require.NoError(t, m.Put(ctx, subtree+"/seed", json.RawMessage(`{}`)))
	sub, err := m.Subscribe(ctx, subtree)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, "seed", nextEvent(t, sub).Key)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("%s/w%d-%d", subtree, w, i)
				if err := m.Put(ctx, key, json.RawMessage(`{}`)); err != nil {
					t.Errorf("put %s: %v", key, err)
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for len(seen) < writers*perWriter {
		ev := nextEvent(t, sub)
		require.Equal(t, EventAdded, ev.Kind)
		seen[ev.Key] = true
	}
	assert.Len(t, seen, writers*perWriter)
}
