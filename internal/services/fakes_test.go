package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"coach-service/internal/models"
	"coach-service/internal/websocket"
	"coach-service/pkg/events"
)

var errStorage = errors.New("storage unavailable")

// fakeRepo is an in-memory table. It hands out copies so a caller mutating
// a loaded row does not change what is stored until it writes it back.
type fakeRepo[T any] struct {
	mu   sync.Mutex
	rows map[string]T
	id   func(*T) *models.Base
	// fail makes every write return errStorage.
	fail bool
}

func newFakeRepo[T any](id func(*T) *models.Base) *fakeRepo[T] {
	return &fakeRepo[T]{rows: make(map[string]T), id: id}
}

func (r *fakeRepo[T]) create(v *T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errStorage
	}
	base := r.id(v)
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	r.rows[base.ID] = *v
	return nil
}

func (r *fakeRepo[T]) update(v *T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errStorage
	}
	id := r.id(v).ID
	if _, ok := r.rows[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.rows[id] = *v
	return nil
}

func (r *fakeRepo[T]) delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errStorage
	}
	if _, ok := r.rows[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeRepo[T]) find(id string) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &v, nil
}

func (r *fakeRepo[T]) filter(keep func(*T) bool) []*T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*T
	for _, v := range r.rows {
		v := v
		if keep(&v) {
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.id(out[i]).ID < r.id(out[j]).ID })
	return out
}

type fakeUsers struct{ *fakeRepo[models.User] }

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{newFakeRepo(func(u *models.User) *models.Base { return &u.Base })}
	for _, u := range users {
		_ = f.create(u)
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, user *models.User) error {
	if len(f.filter(func(u *models.User) bool { return u.Email == user.Email })) > 0 {
		return gorm.ErrDuplicatedKey
	}
	return f.create(user)
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*models.User, error) { return f.find(id) }

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	found := f.filter(func(u *models.User) bool { return u.Email == email })
	if len(found) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return found[0], nil
}

type fakeSessions struct{ *fakeRepo[models.Session] }

func newFakeSessions() *fakeSessions {
	return &fakeSessions{newFakeRepo(func(s *models.Session) *models.Base { return &s.Base })}
}

func (f *fakeSessions) Create(_ context.Context, s *models.Session) error { return f.create(s) }
func (f *fakeSessions) Update(_ context.Context, s *models.Session) error { return f.update(s) }
func (f *fakeSessions) Delete(_ context.Context, id string) error         { return f.delete(id) }
func (f *fakeSessions) FindByID(_ context.Context, id string) (*models.Session, error) {
	return f.find(id)
}
func (f *fakeSessions) ListForUser(_ context.Context, userID string) ([]*models.Session, error) {
	return f.filter(func(s *models.Session) bool { return s.Involves(userID) }), nil
}

type fakeInvoices struct{ *fakeRepo[models.Invoice] }

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{newFakeRepo(func(i *models.Invoice) *models.Base { return &i.Base })}
}

func (f *fakeInvoices) Create(_ context.Context, i *models.Invoice) error { return f.create(i) }
func (f *fakeInvoices) Update(_ context.Context, i *models.Invoice) error { return f.update(i) }
func (f *fakeInvoices) Delete(_ context.Context, id string) error         { return f.delete(id) }
func (f *fakeInvoices) FindByID(_ context.Context, id string) (*models.Invoice, error) {
	return f.find(id)
}
func (f *fakeInvoices) ListForUser(_ context.Context, userID string) ([]*models.Invoice, error) {
	return f.filter(func(i *models.Invoice) bool { return i.Involves(userID) }), nil
}

type fakeConversations struct {
	*fakeRepo[models.Conversation]
	messages *fakeRepo[models.Message]
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		fakeRepo: newFakeRepo(func(c *models.Conversation) *models.Base { return &c.Base }),
		messages: newFakeRepo(func(m *models.Message) *models.Base { return &m.Base }),
	}
}

func (f *fakeConversations) Create(_ context.Context, c *models.Conversation) error {
	return f.create(c)
}
func (f *fakeConversations) FindByID(_ context.Context, id string) (*models.Conversation, error) {
	return f.find(id)
}
func (f *fakeConversations) FindByParticipants(_ context.Context, coachID, clientID string) (*models.Conversation, error) {
	found := f.filter(func(c *models.Conversation) bool { return c.CoachID == coachID && c.ClientID == clientID })
	if len(found) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return found[0], nil
}
func (f *fakeConversations) ListForUser(_ context.Context, userID string) ([]*models.Conversation, error) {
	return f.filter(func(c *models.Conversation) bool { return c.Involves(userID) }), nil
}
func (f *fakeConversations) AppendMessage(_ context.Context, c *models.Conversation, m *models.Message) error {
	if f.messages.fail {
		return errStorage
	}
	if err := f.messages.create(m); err != nil {
		return err
	}
	return f.update(c)
}
func (f *fakeConversations) FindMessage(_ context.Context, id string) (*models.Message, error) {
	return f.messages.find(id)
}
func (f *fakeConversations) DeleteMessage(_ context.Context, id string) error {
	return f.messages.delete(id)
}
func (f *fakeConversations) ListMessages(_ context.Context, conversationID string, limit int, _ *int64) ([]*models.Message, error) {
	found := f.messages.filter(func(m *models.Message) bool { return m.ConversationID == conversationID })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

type broadcastCall struct {
	EntityType events.EntityType
	EntityID   string
	Kind       events.Kind
	Targets    []string
	Entity     websocket.Entity
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(entityType events.EntityType, entity websocket.Entity, kind events.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{
		EntityType: entityType,
		EntityID:   entity.EntityID(),
		Kind:       kind,
		Targets:    entity.Stakeholders(),
		Entity:     entity,
	})
	return len(entity.Stakeholders())
}

func (b *recordingBroadcaster) Calls() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

type fixedSequence struct{ next int64 }

func (s *fixedSequence) NextInvoiceNumber(context.Context, string) (int64, error) {
	s.next++
	return s.next, nil
}

var (
	coach    = &models.User{Base: models.Base{ID: "coach-1"}, Name: "Coach", Email: "coach@example.com", Role: models.RoleCoach}
	client   = &models.User{Base: models.Base{ID: "client-1"}, Name: "Client", Email: "client@example.com", Role: models.RoleClient}
	client2  = &models.User{Base: models.Base{ID: "client-2"}, Name: "Other", Email: "other@example.com", Role: models.RoleClient}
	outsider = &models.User{Base: models.Base{ID: "coach-2"}, Name: "Outsider", Email: "outsider@example.com", Role: models.RoleCoach}
)

func testUsers() *fakeUsers {
	return newFakeUsers(coach, client, client2, outsider)
}
