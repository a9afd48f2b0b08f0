package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryMailbox is an in-process Mailbox.
type MemoryMailbox struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	seq      int64
	watchers map[*memoryWatcher]struct{}
}

type memoryEntry struct {
	value json.RawMessage
	seq   int64 // insertion order
}

type memoryWatcher struct {
	subtree string

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

var _ Mailbox = (*MemoryMailbox)(nil)

func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{
		entries:  make(map[string]memoryEntry),
		watchers: make(map[*memoryWatcher]struct{}),
	}
}

func (m *MemoryMailbox) Put(ctx context.Context, path string, value json.RawMessage) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrMalformed
	}
	value = append(json.RawMessage(nil), value...)

	m.mu.Lock()
	defer m.mu.Unlock()
	kind := EventChanged
	entry, ok := m.entries[path]
	if !ok {
		kind = EventAdded
		m.seq++
		entry.seq = m.seq
	}
	entry.value = value
	m.entries[path] = entry
	m.publishLocked(kind, path, value)
	return nil
}

func (m *MemoryMailbox) Get(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), entry.value...), nil
}

func (m *MemoryMailbox) Update(ctx context.Context, path string, fields map[string]any) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[path]
	if !ok {
		return ErrNotFound
	}
	merged, err := mergeFields(entry.value, fields)
	if err != nil {
		return ErrMalformed
	}
	entry.value = merged
	m.entries[path] = entry
	m.publishLocked(EventChanged, path, merged)
	return nil
}

func (m *MemoryMailbox) Delete(ctx context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[path]; !ok {
		return nil
	}
	delete(m.entries, path)
	m.publishLocked(EventRemoved, path, nil)
	return nil
}

func (m *MemoryMailbox) Subscribe(ctx context.Context, subtree string) (*Subscription, error) {
	subtree, err := CleanPath(subtree)
	if err != nil {
		return nil, err
	}
	w := &memoryWatcher{subtree: subtree, notify: make(chan struct{}, 1)}

	m.mu.Lock()
	type child struct {
		path  string
		entry memoryEntry
	}
	var existing []child
	for path, entry := range m.entries {
		if parent, _ := splitChild(path); parent == subtree {
			existing = append(existing, child{path, entry})
		}
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].entry.seq < existing[j].entry.seq })
	for _, c := range existing {
		_, key := splitChild(c.path)
		w.queue = append(w.queue, Event{Kind: EventAdded, Path: c.path, Key: key, Value: c.entry.value})
	}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	sub, subCtx := newSubscription(ctx)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		}()
		sub.finish(subCtx, w.pump(subCtx, sub))
	}()
	return sub, nil
}

func (m *MemoryMailbox) publishLocked(kind EventKind, path string, value json.RawMessage) {
	parent, key := splitChild(path)
	for w := range m.watchers {
		if w.subtree != parent {
			continue
		}
		w.push(Event{Kind: kind, Path: path, Key: key, Value: value})
	}
}

func (w *memoryWatcher) push(ev Event) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) pump(ctx context.Context, sub *Subscription) error {
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, ev := range batch {
			if !sub.send(ctx, ev) {
				return ctx.Err()
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-w.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
