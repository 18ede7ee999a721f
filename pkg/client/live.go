package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coach-service/internal/models"
	"coach-service/pkg/events"
)

// FetchFunc loads the full list of an entity type for the current user.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// LiveList keeps a Store current for as long as it is open: it subscribes to
// the ConnectionManager first, then fetches and seeds, so an event that
// commits while the fetch is in flight is never lost. It refetches after every
// (re)connect because pushes missed while disconnected are not replayed.
type LiveList[T any] struct {
	cm    *ConnectionManager
	store *Store[T]
	fetch FetchFunc[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	identity    Identity
	started     bool
	closed      bool
	unsubscribe func()
	cancelState func()

	refreshMu sync.Mutex
}

func NewLiveList[T any](cm *ConnectionManager, store *Store[T], fetch FetchFunc[T]) *LiveList[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &LiveList[T]{
		cm:     cm,
		store:  store,
		fetch:  fetch,
		ctx:    ctx,
		cancel: cancel,
	}
}

// LiveSessions binds a session store to the client's session list.
func LiveSessions(c *Client, cm *ConnectionManager) *LiveList[models.Session] {
	return NewLiveList(cm, NewSessionStore(), c.ListSessions)
}

// LiveInvoices binds an invoice store to the client's invoice list.
func LiveInvoices(c *Client, cm *ConnectionManager) *LiveList[models.Invoice] {
	return NewLiveList(cm, NewInvoiceStore(), c.ListInvoices)
}

// LiveConversations binds a conversation store to the client's conversation list.
func LiveConversations(c *Client, cm *ConnectionManager) *LiveList[models.Conversation] {
	return NewLiveList(cm, NewConversationStore(), c.ListConversations)
}

// LiveMessages binds a message store to the latest page of one conversation.
func LiveMessages(c *Client, cm *ConnectionManager, conversationID string, limit int) *LiveList[models.Message] {
	return NewLiveList(cm, NewMessageStore(conversationID), func(ctx context.Context) ([]models.Message, error) {
		return c.ListMessages(ctx, conversationID, limit, time.Time{})
	})
}

// Start subscribes and performs the initial fetch. The subscription stays in
// place when the fetch fails; call Refresh to retry it. The list belongs to
// the manager's identity at the time of Start and goes quiet once that
// identity changes.
func (l *LiveList[T]) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.identity = l.cm.Identity()
	l.unsubscribe = l.cm.Subscribe(l.handle)
	l.cancelState = l.cm.OnStateChange(l.stateChanged)
	l.mu.Unlock()

	return l.Refresh(ctx)
}

// Refresh refetches the list and reconciles it with the events applied in
// the meantime. Entries missing from the fetch that no event touched are
// dropped.
func (l *LiveList[T]) Refresh(ctx context.Context) error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	if l.isClosed() {
		return ErrClosed
	}

	l.store.BeginSync()
	items, err := l.fetch(ctx)
	if err != nil {
		l.store.AbortSync()
		return fmt.Errorf("fetch %s: %w", l.store.EntityType(), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.store.AbortSync()
		return ErrClosed
	}
	l.store.Seed(items)
	return nil
}

func (l *LiveList[T]) Store() *Store[T] {
	return l.store
}

// Items returns a snapshot of the reconciled list.
func (l *LiveList[T]) Items() []T {
	return l.store.Items()
}

// Close detaches the list synchronously: once it returns no further event or
// fetch result is applied. It must not be called from an OnChange callback.
func (l *LiveList[T]) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	unsubscribe, cancelState := l.unsubscribe, l.cancelState
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancelState != nil {
		cancelState()
	}
	l.cancel()
	l.wg.Wait()
}

func (l *LiveList[T]) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *LiveList[T]) handle(ev *events.ChangeEvent) {
	if _, err := l.store.Apply(ev); err != nil {
		slog.Warn("Dropping change event", "entityType", ev.EntityType, "entityID", ev.EntityID, "error", err)
	}
}

// stateChanged refetches whenever the connection is (re)established.
func (l *LiveList[T]) stateChanged(state State) {
	if state != StateConnected {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.cm.Identity() != l.identity {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.Refresh(l.ctx); err != nil && l.ctx.Err() == nil {
			slog.Warn("Refetch after reconnect failed", "entityType", l.store.EntityType(), "error", err)
		}
	}()
}
