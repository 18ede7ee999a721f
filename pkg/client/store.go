package client

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"coach-service/internal/models"
	"coach-service/pkg/events"
)

// Store is an in-memory list of one entity type, seeded from a REST fetch and
// kept current by change events. Entities are merged by identity: creating an
// identity that is already held replaces it, updating a missing identity
// inserts it, and deleting an absent identity does nothing.
//
// Deletion wins. A deleted identity is remembered for the lifetime of the
// store, so neither a fetch that raced the delete nor a late upsert can bring
// it back.
type Store[T any] struct {
	entityType events.EntityType
	key        func(T) string
	less       func(a, b T) bool
	newer      func(a, b T) bool
	filter     func(T) bool

	// notifyMu serialises mutation plus notification so listeners observe
	// snapshots in mutation order.
	notifyMu sync.Mutex

	mu         sync.RWMutex
	items      map[string]T
	order      []string
	tombstones map[string]struct{}
	syncing    bool
	touched    map[string]struct{}

	listenersMu  sync.Mutex
	listeners    map[int]func([]T)
	nextListener int
}

type StoreOption[T any] func(*Store[T])

// WithOrder keeps Items sorted by less. Without it items keep arrival order.
func WithOrder[T any](less func(a, b T) bool) StoreOption[T] {
	return func(s *Store[T]) { s.less = less }
}

// WithVersion lets the store drop a copy that is older than the one it
// holds. newer reports whether a is strictly newer than b; ties go to the
// change event.
func WithVersion[T any](newer func(a, b T) bool) StoreOption[T] {
	return func(s *Store[T]) { s.newer = newer }
}

// WithFilter limits the store to entities for which keep returns true, e.g.
// the messages of one conversation.
func WithFilter[T any](keep func(T) bool) StoreOption[T] {
	return func(s *Store[T]) { s.filter = keep }
}

func NewStore[T any](entityType events.EntityType, key func(T) string, opts ...StoreOption[T]) *Store[T] {
	s := &Store[T]{
		entityType: entityType,
		key:        key,
		items:      make(map[string]T),
		tombstones: make(map[string]struct{}),
		listeners:  make(map[int]func([]T)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionStore orders sessions by date then start time, like the REST list.
func NewSessionStore(opts ...StoreOption[models.Session]) *Store[models.Session] {
	base := []StoreOption[models.Session]{
		WithOrder(func(a, b models.Session) bool {
			if !a.SessionDate.Equal(b.SessionDate) {
				return a.SessionDate.Before(b.SessionDate)
			}
			return a.StartTime < b.StartTime
		}),
		WithVersion(func(a, b models.Session) bool { return a.UpdatedAt.After(b.UpdatedAt) }),
	}
	return NewStore(events.EntitySession, sessionKey, append(base, opts...)...)
}

// NewInvoiceStore orders invoices newest first.
func NewInvoiceStore(opts ...StoreOption[models.Invoice]) *Store[models.Invoice] {
	base := []StoreOption[models.Invoice]{
		WithOrder(func(a, b models.Invoice) bool { return a.CreatedAt.After(b.CreatedAt) }),
		WithVersion(func(a, b models.Invoice) bool { return a.UpdatedAt.After(b.UpdatedAt) }),
	}
	return NewStore(events.EntityInvoice, invoiceKey, append(base, opts...)...)
}

// NewConversationStore orders conversations by most recent activity.
func NewConversationStore(opts ...StoreOption[models.Conversation]) *Store[models.Conversation] {
	base := []StoreOption[models.Conversation]{
		WithOrder(func(a, b models.Conversation) bool { return a.UpdatedAt.After(b.UpdatedAt) }),
		WithVersion(func(a, b models.Conversation) bool { return a.UpdatedAt.After(b.UpdatedAt) }),
	}
	return NewStore(events.EntityConversation, conversationKey, append(base, opts...)...)
}

// NewMessageStore holds the messages of one conversation in chronological order.
func NewMessageStore(conversationID string, opts ...StoreOption[models.Message]) *Store[models.Message] {
	base := []StoreOption[models.Message]{
		WithOrder(func(a, b models.Message) bool { return a.CreatedAt.Before(b.CreatedAt) }),
		WithFilter(func(m models.Message) bool { return m.ConversationID == conversationID }),
	}
	return NewStore(events.EntityMessage, messageKey, append(base, opts...)...)
}

func sessionKey(s models.Session) string           { return s.ID }
func invoiceKey(inv models.Invoice) string         { return inv.ID }
func conversationKey(c models.Conversation) string { return c.ID }
func messageKey(m models.Message) string           { return m.ID }

// EntityType is the collection this store tracks.
func (s *Store[T]) EntityType() events.EntityType {
	return s.entityType
}

// Apply merges one change event. Events for other entity types are ignored
// and report false. It returns whether the list changed.
func (s *Store[T]) Apply(ev *events.ChangeEvent) (bool, error) {
	if ev == nil || ev.EntityType != s.entityType {
		return false, nil
	}
	if err := ev.Validate(); err != nil {
		return false, err
	}

	if ev.Kind == events.KindDeleted {
		return s.mutate(func() bool { return s.removeLocked(ev.EntityID) }), nil
	}

	var item T
	if err := json.Unmarshal(ev.Payload, &item); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", ev.EntityType, ev.EntityID, err)
	}
	if id := s.key(item); id != ev.EntityID {
		return false, fmt.Errorf("%s event for %s carries entity %q", ev.EntityType, ev.EntityID, id)
	}
	return s.mutate(func() bool { return s.upsertLocked(item) }), nil
}

// Upsert inserts or replaces item, e.g. with the server's response to the
// caller's own write. It follows the same rules as a created event.
func (s *Store[T]) Upsert(item T) bool {
	return s.mutate(func() bool { return s.upsertLocked(item) })
}

// Remove deletes id and remembers it as deleted.
func (s *Store[T]) Remove(id string) bool {
	return s.mutate(func() bool { return s.removeLocked(id) })
}

// BeginSync marks the start of a full refetch. The next Seed treats the fetch
// as authoritative for everything held before this call, and drops those
// entries it does not contain. Entries changed by events in between are kept.
func (s *Store[T]) BeginSync() {
	s.mu.Lock()
	s.syncing = true
	s.touched = make(map[string]struct{})
	s.mu.Unlock()
}

// AbortSync ends a resync whose fetch failed. Nothing is dropped.
func (s *Store[T]) AbortSync() {
	s.mu.Lock()
	s.syncing = false
	s.touched = nil
	s.mu.Unlock()
}

// Seed merges a REST fetch into the store. After BeginSync the fetched copy
// replaces every held entry that no event touched since. Otherwise, and for
// touched entries, a held entry wins unless the version function says the
// fetched copy is newer. Deleted identities stay deleted.
func (s *Store[T]) Seed(fetched []T) {
	s.mutate(func() bool {
		changed := false
		seen := make(map[string]struct{}, len(fetched))
		for _, item := range fetched {
			id := s.key(item)
			seen[id] = struct{}{}
			if _, deleted := s.tombstones[id]; deleted {
				continue
			}
			if s.filter != nil && !s.filter(item) {
				continue
			}
			if held, ok := s.items[id]; ok {
				// During a resync the fetch is authoritative for entries no
				// event touched; otherwise the held copy wins unless older.
				_, touched := s.touched[id]
				authoritative := s.syncing && !touched
				if !authoritative && (s.newer == nil || !s.newer(item, held)) {
					continue
				}
			} else {
				s.order = append(s.order, id)
			}
			s.items[id] = item
			changed = true
		}

		if s.syncing {
			for _, id := range append([]string(nil), s.order...) {
				if _, ok := seen[id]; ok {
					continue
				}
				if _, ok := s.touched[id]; ok {
					continue
				}
				s.dropLocked(id)
				changed = true
			}
			s.syncing = false
			s.touched = nil
		}
		return changed
	})
}

// Items returns a snapshot of the list in store order.
func (s *Store[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get returns the entity held under id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// OnChange registers fn to receive a snapshot after every mutation that
// changed the list. fn must not mutate the store. The returned func removes it.
func (s *Store[T]) OnChange(fn func(items []T)) (cancel func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store[T]) mutate(fn func() bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := fn()
	var snapshot []T
	if changed {
		snapshot = s.snapshotLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notify(snapshot)
	}
	return changed
}

func (s *Store[T]) notify(snapshot []T) {
	s.listenersMu.Lock()
	fns := make([]func([]T), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(append([]T(nil), snapshot...))
	}
}

func (s *Store[T]) upsertLocked(item T) bool {
	id := s.key(item)
	if id == "" {
		return false
	}
	if _, deleted := s.tombstones[id]; deleted {
		return false
	}
	s.touch(id)

	held, ok := s.items[id]
	if s.filter != nil && !s.filter(item) {
		if ok {
			s.dropLocked(id)
			return true
		}
		return false
	}
	if ok && s.newer != nil && s.newer(held, item) {
		return false
	}
	if !ok {
		s.order = append(s.order, id)
	}
	s.items[id] = item
	return true
}

func (s *Store[T]) removeLocked(id string) bool {
	if id == "" {
		return false
	}
	s.tombstones[id] = struct{}{}
	s.touch(id)
	if _, ok := s.items[id]; !ok {
		return false
	}
	s.dropLocked(id)
	return true
}

func (s *Store[T]) dropLocked(id string) {
	delete(s.items, id)
	for i, held := range s.order {
		if held == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store[T]) touch(id string) {
	if s.syncing {
		s.touched[id] = struct{}{}
	}
}

func (s *Store[T]) snapshotLocked() []T {
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	if s.less != nil {
		sort.SliceStable(out, func(i, j int) bool { return s.less(out[i], out[j]) })
	}
	return out
}
