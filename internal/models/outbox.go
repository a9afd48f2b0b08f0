package models

import "time"

// OutboxEntry is a pending write to the relay mailbox, persisted locally so
// that propagation survives process restarts.
type OutboxEntry struct {
	// Path is the mailbox path the payload is written to. It is also the
	// outbox key: enqueueing the same path again replaces the payload.
	Path string

	// Payload is the JSON document to write.
	Payload []byte

	// Revision increases every time the entry is replaced, so a flush that
	// raced with a newer enqueue does not delete the newer payload.
	Revision int64

	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     int64
}
