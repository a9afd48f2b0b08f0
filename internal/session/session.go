// Package session scopes the sync components to one signed-in user.
//
// A Session is built at sign-in and torn down at sign-out. Nothing in the
// sync layer is process-global; callers that find no current session treat
// it as "not signed in" and skip remote work.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Harry0M/oikos-sub001/internal/metrics"
	"github.com/Harry0M/oikos-sub001/internal/mirror"
	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/reconcile"
	"github.com/Harry0M/oikos-sub001/internal/relay"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

var ErrNoIdentity = errors.New("session: identity has no user id")

// DialFunc opens the relay mailbox on behalf of identity.
type DialFunc func(identity models.Identity, token string) (relay.Mailbox, error)

// Config holds what every session needs.
type Config struct {
	Store    storage.LedgerStore
	Dial     DialFunc
	Outbox   mirror.OutboxConfig
	Metrics  *metrics.Metrics
	Notifier mirror.Notifier
	Logger   *slog.Logger
}

// Session owns the mirrors and the outbox worker of one user.
type Session struct {
	Identity    models.Identity
	Debts       *mirror.DebtMirror
	Settlements *mirror.SettlementMirror
	Outbox      *mirror.Outbox

	token  string
	cancel context.CancelFunc
}

func (s *Session) stop() {
	s.Debts.Stop()
	s.Settlements.Stop()
	s.Outbox.Stop()
	s.cancel()
	s.Debts.Wait()
	s.Settlements.Wait()
}

// Manager holds at most one active Session.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current *Session
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// SignIn starts a session for identity. Signing in again as the current
// user with the same token returns the running session. A new token for the
// same user re-dials the relay and restarts the session with it; if that
// dial fails the running session is kept. Signing in as someone else
// replaces the session.
func (m *Manager) SignIn(ctx context.Context, identity models.Identity, token string) (*Session, error) {
	if !identity.SignedIn() {
		return nil, ErrNoIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.current; cur != nil && cur.Identity.UserID == identity.UserID {
		if cur.token == token {
			return cur, nil
		}
		mailbox, err := m.cfg.Dial(identity, token)
		if err != nil {
			return cur, fmt.Errorf("failed to reopen relay mailbox: %w", err)
		}
		m.logger.Info("Relay token refreshed", "user_id", identity.UserID)
		cur.stop()
		m.current = m.start(ctx, identity, token, mailbox)
		return m.current, nil
	}

	if m.current != nil {
		m.logger.Info("Switching user", "from", m.current.Identity.UserID, "to", identity.UserID)
		m.current.stop()
		m.current = nil
	}

	mailbox, err := m.cfg.Dial(identity, token)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay mailbox: %w", err)
	}
	m.current = m.start(ctx, identity, token, mailbox)
	m.logger.Info("Signed in", "user_id", identity.UserID)
	return m.current, nil
}

// start builds and runs the sync components of one session.
func (m *Manager) start(ctx context.Context, identity models.Identity, token string, mailbox relay.Mailbox) *Session {
	logger := m.logger.With("user_id", identity.UserID)
	var outboxOpts []mirror.OutboxOption
	outboxOpts = append(outboxOpts, mirror.WithOutboxLogger(logger))
	var guard *reconcile.Guard
	if m.cfg.Metrics != nil {
		outboxOpts = append(outboxOpts, mirror.WithOutboxMetrics(m.cfg.Metrics.OutboxPending, m.cfg.Metrics.OutboxDeliveries))
		guard = reconcile.NewGuard(m.cfg.Metrics.ReconcileOutcomes, logger)
	} else {
		guard = reconcile.NewGuard(nil, logger)
	}

	deps := mirror.Deps{
		Identity: identity,
		Store:    m.cfg.Store,
		Mailbox:  mailbox,
		Outbox:   mirror.NewOutbox(m.cfg.Store, mailbox, m.cfg.Outbox, outboxOpts...),
		Guard:    guard,
		Logger:   logger,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		Identity:    identity,
		Debts:       mirror.NewDebtMirror(deps),
		Settlements: mirror.NewSettlementMirror(deps, m.cfg.Notifier),
		Outbox:      deps.Outbox,
		token:       token,
		cancel:      cancel,
	}
	s.Outbox.Start(runCtx)
	s.Debts.Start(runCtx)
	s.Settlements.Start(runCtx)
	return s
}

// SignOut stops the current session, if any.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	userID := m.current.Identity.UserID
	m.current.stop()
	m.current = nil
	m.logger.Info("Signed out", "user_id", userID)
}

// Current returns the active session or nil when nobody is signed in.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
