// Package relay implements the shared mailbox that devices use to hand
// notifications to each other.
//
// A mailbox is a tree of JSON documents addressed by slash separated paths.
// Each user owns the subtree users/{uid}/ and other users write notifications
// into its *_notifications children. Subscriptions are scoped to one subtree
// and observe its direct children.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

var (
	ErrNotFound    = errors.New("relay: entry not found")
	ErrInvalidPath = errors.New("relay: invalid path")
	ErrMalformed   = errors.New("relay: malformed notification")
)

const (
	debtNotificationsDir       = "debt_notifications"
	settlementNotificationsDir = "settlement_notifications"
	notificationsSuffix        = "_notifications"
)

// EventKind tells how a child of a watched subtree changed.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventChanged EventKind = "changed"
	EventRemoved EventKind = "removed"
)

// Event is one change to a direct child of a watched subtree.
type Event struct {
	Kind  EventKind       `json:"kind"`
	Path  string          `json:"path"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Mailbox is the relay store as seen by one device.
type Mailbox interface {
	// Put writes value at path, replacing any previous document.
	Put(ctx context.Context, path string, value json.RawMessage) error

	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Update merges fields into the top level of the document at path.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the document at path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Subscribe replays every existing child of subtree as an EventAdded in
	// insertion order, then streams changes until ctx is done or the
	// subscription is closed.
	Subscribe(ctx context.Context, subtree string) (*Subscription, error)
}

// Subscription is a live change feed over one subtree.
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newSubscription(parent context.Context) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed after Events is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the feed ended. It is nil after a clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the feed and waits for the producer to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) send(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscription) finish(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
	close(s.done)
}

// CleanPath trims surrounding slashes and rejects empty or relative segments.
func CleanPath(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return path, nil
}

// splitChild returns the parent and key of path.
func splitChild(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Owner returns the user that owns path, or "" when path is outside users/.
func Owner(path string) string {
	segs := strings.SplitN(path, "/", 3)
	if len(segs) < 2 || segs[0] != "users" {
		return ""
	}
	return segs[1]
}

// IsNotificationPath reports whether path names a single notification
// document, users/{uid}/{kind}_notifications/{key}.
func IsNotificationPath(path string) bool {
	segs := strings.Split(path, "/")
	return len(segs) == 4 && segs[0] == "users" && segs[1] != "" &&
		strings.HasSuffix(segs[2], notificationsSuffix) && segs[3] != ""
}

func DebtNotificationsPath(userID string) string {
	return "users/" + userID + "/" + debtNotificationsDir
}

func SettlementNotificationsPath(userID string) string {
	return "users/" + userID + "/" + settlementNotificationsDir
}

func DebtNotificationPath(userID, key string) string {
	return DebtNotificationsPath(userID) + "/" + key
}

func SettlementNotificationPath(userID, key string) string {
	return SettlementNotificationsPath(userID) + "/" + key
}

// mergeFields applies fields on top of the JSON object doc.
func mergeFields(doc json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &obj); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}
