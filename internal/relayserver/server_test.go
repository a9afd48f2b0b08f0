package relayserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/metrics"
	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/relay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testRelay struct {
	url     string
	jwt     *auth.JWTManager
	mailbox *relay.MemoryMailbox
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	jwtManager := auth.NewJWTManager("relay-secret", time.Hour)
	mailbox := relay.NewMemoryMailbox()
	srv := New(Config{
		Mailbox: mailbox,
		JWT:     jwtManager,
		Metrics: metrics.New(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testRelay{url: ts.URL, jwt: jwtManager, mailbox: mailbox}
}

func (r *testRelay) client(t *testing.T, userID string) *relay.Client {
	t.Helper()
	token, err := r.jwt.Generate(models.Identity{UserID: userID})
	require.NoError(t, err)
	return relay.NewClient(r.url, token)
}

func statusOf(err error) int {
	var statusErr *relay.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func TestEntries_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay(t)
	ann := r.client(t, "u1")
	bob := r.client(t, "u2")

	path := relay.DebtNotificationPath("u2", "d-1")
	require.NoError(t, ann.Put(ctx, path, json.RawMessage(`{"debtId":"d-1","senderId":"u1","isProcessed":false}`)))

	doc, err := bob.Get(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"debtId":"d-1","senderId":"u1","isProcessed":false}`, string(doc))

	require.NoError(t, bob.Update(ctx, path, map[string]any{"isProcessed": true}))
	doc, err = bob.Get(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"debtId":"d-1","senderId":"u1","isProcessed":true}`, string(doc))

	require.NoError(t, bob.Delete(ctx, path))
	_, err = bob.Get(ctx, path)
	assert.ErrorIs(t, err, relay.ErrNotFound)
	assert.NoError(t, bob.Delete(ctx, path), "deleting a missing entry is not an error")
}

func TestEntries_Access(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay(t)
	ann := r.client(t, "u1")

	bobNote := relay.DebtNotificationPath("u2", "d-1")
	require.NoError(t, ann.Put(ctx, bobNote, json.RawMessage(`{"senderId":"u1"}`)))

	_, err := ann.Get(ctx, bobNote)
	assert.Equal(t, http.StatusForbidden, statusOf(err), "reading another user's mailbox")

	err = ann.Update(ctx, bobNote, map[string]any{"isProcessed": true})
	assert.Equal(t, http.StatusForbidden, statusOf(err), "updating another user's mailbox")

	err = ann.Put(ctx, "users/u2/profile", json.RawMessage(`{}`))
	assert.Equal(t, http.StatusForbidden, statusOf(err), "writing outside notifications")

	_, err = ann.Subscribe(ctx, relay.DebtNotificationsPath("u2"))
	assert.Error(t, err, "watching another user's mailbox")

	err = ann.Put(ctx, relay.DebtNotificationPath("u1", "x"), json.RawMessage(`not json`))
	assert.ErrorIs(t, err, relay.ErrMalformed)

	err = ann.Put(ctx, relay.DebtNotificationPath("u2", "d-2"), json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, relay.ErrMalformed, "notification for someone else must be an object")

	anon := relay.NewClient(r.url, "bogus")
	_, err = anon.Get(ctx, relay.DebtNotificationPath("u1", "x"))
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))
}

func TestEntries_SenderOwnsNotification(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay(t)
	ann := r.client(t, "u1")
	bob := r.client(t, "u2")
	cy := r.client(t, "u3")

	paid := relay.SettlementNotificationPath("u2", "p1")
	require.NoError(t, ann.Put(ctx, paid, json.RawMessage(`{"senderId":"u1","amount":25}`)))
	require.NoError(t, bob.Update(ctx, paid, map[string]any{"isProcessed": true}))

	tests := []struct {
		name string
		call func() error
	}{
		{"overwrite with a forged sender", func() error {
			return cy.Put(ctx, paid, json.RawMessage(`{"senderId":"u1","amount":1000000}`))
		}},
		{"overwrite as itself", func() error {
			return cy.Put(ctx, paid, json.RawMessage(`{"senderId":"u3","amount":1}`))
		}},
		{"new key with a forged sender", func() error {
			return cy.Put(ctx, relay.SettlementNotificationPath("u2", "p9"), json.RawMessage(`{"senderId":"u1","amount":5}`))
		}},
		{"new key without a sender", func() error {
			return cy.Put(ctx, relay.SettlementNotificationPath("u2", "p9"), json.RawMessage(`{"amount":5}`))
		}},
		{"delete another sender's notification", func() error {
			return cy.Delete(ctx, paid)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusForbidden, statusOf(tt.call()))
		})
	}

	doc, err := bob.Get(ctx, paid)
	require.NoError(t, err)
	assert.JSONEq(t, `{"senderId":"u1","amount":25,"isProcessed":true}`, string(doc))
	_, err = bob.Get(ctx, relay.SettlementNotificationPath("u2", "p9"))
	assert.ErrorIs(t, err, relay.ErrNotFound)

	require.NoError(t, cy.Put(ctx, relay.SettlementNotificationPath("u2", "p3"), json.RawMessage(`{"senderId":"u3","amount":3}`)))
	require.NoError(t, ann.Put(ctx, paid, json.RawMessage(`{"senderId":"u1","amount":30}`)), "the sender may resend")
	require.NoError(t, bob.Put(ctx, paid, json.RawMessage(`{"anything":true}`)), "the owner writes freely")
	require.NoError(t, ann.Delete(ctx, relay.SettlementNotificationPath("u2", "p4")), "deleting a missing entry")
}

func TestWatch_ReplaysAndStreams(t *testing.T) {
	ctx := context.Background()
	r := newTestRelay(t)
	ann := r.client(t, "u1")
	bob := r.client(t, "u2")

	require.NoError(t, ann.Put(ctx, relay.DebtNotificationPath("u2", "d-1"), json.RawMessage(`{"senderId":"u1","n":1}`)))

	sub, err := bob.Subscribe(ctx, relay.DebtNotificationsPath("u2"))
	require.NoError(t, err)
	defer sub.Close()

	next := func() relay.Event {
		t.Helper()
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "feed closed: %v", sub.Err())
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for event")
			return relay.Event{}
		}
	}

	ev := next()
	assert.Equal(t, relay.EventAdded, ev.Kind)
	assert.Equal(t, "d-1", ev.Key)
	assert.JSONEq(t, `{"senderId":"u1","n":1}`, string(ev.Value))

	require.NoError(t, ann.Put(ctx, relay.DebtNotificationPath("u2", "d-2"), json.RawMessage(`{"senderId":"u1","n":2}`)))
	ev = next()
	assert.Equal(t, relay.EventAdded, ev.Kind)
	assert.Equal(t, "d-2", ev.Key)

	require.NoError(t, bob.Update(ctx, relay.DebtNotificationPath("u2", "d-1"), map[string]any{"isProcessed": true}))
	ev = next()
	assert.Equal(t, relay.EventChanged, ev.Kind)
	assert.Equal(t, "d-1", ev.Key)

	require.NoError(t, ann.Delete(ctx, relay.DebtNotificationPath("u2", "d-2")))
	ev = next()
	assert.Equal(t, relay.EventRemoved, ev.Kind)
	assert.Equal(t, "users/u2/debt_notifications/d-2", ev.Path)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRelay(t)

	resp, err := http.Get(r.url + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, _ = r.client(t, "u1").Get(context.Background(), relay.DebtNotificationPath("u1", "missing"))

	resp, err = http.Get(r.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `ledger_relay_requests_total{code="404",method="GET"}`), "metrics body:\n%s", body)
}
