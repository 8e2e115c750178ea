package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/require"
)

// recordingEmitter is an in-memory transport: accepted connections become
// live on Attach and then receive sends and broadcasts into per-connection
// inboxes.
type recordingEmitter struct {
	mu       sync.Mutex
	accepted map[domain.ConnectionID]bool
	live     map[domain.ConnectionID]bool
	inbox    map[domain.ConnectionID][]domain.Event
	closed   []domain.ConnectionID
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{
		accepted: make(map[domain.ConnectionID]bool),
		live:     make(map[domain.ConnectionID]bool),
		inbox:    make(map[domain.ConnectionID][]domain.Event),
	}
}

// accept registers a socket that has not been attached yet.
func (e *recordingEmitter) accept(id domain.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accepted[id] = true
}

// attach makes id live without going through a session.
func (e *recordingEmitter) attach(id domain.ConnectionID) {
	e.accept(id)
	e.Attach(id)
}

func (e *recordingEmitter) detach(id domain.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.accepted, id)
	delete(e.live, id)
}

func (e *recordingEmitter) Attach(id domain.ConnectionID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.accepted[id] {
		return false
	}
	e.live[id] = true
	return true
}

func (e *recordingEmitter) Send(id domain.ConnectionID, event domain.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live[id] {
		return false
	}
	e.inbox[id] = append(e.inbox[id], event)
	return true
}

func (e *recordingEmitter) Broadcast(event domain.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.live {
		e.inbox[id] = append(e.inbox[id], event)
	}
	return len(e.live)
}

func (e *recordingEmitter) Close(id domain.ConnectionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.accepted, id)
	delete(e.live, id)
	e.closed = append(e.closed, id)
}

// drain returns and clears the events received by id.
func (e *recordingEmitter) drain(id domain.ConnectionID) []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	events := e.inbox[id]
	delete(e.inbox, id)
	return events
}

func (e *recordingEmitter) drainAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbox = make(map[domain.ConnectionID][]domain.Event)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sessionFixture struct {
	t       *testing.T
	session *SessionService
	emitter *recordingEmitter
	clock   *fakeClock
}

func newSessionFixture(t *testing.T, cfg LivenessConfig) *sessionFixture {
	emitter := newRecordingEmitter()
	clock := newFakeClock()
	session := NewSessionService(
		memory.NewMemoryConnectionRepository(),
		memory.NewMemoryIdentityRegistry(),
		emitter,
		nil,
		cfg,
		nil,
		nil,
	)
	session.SetClock(clock.Now)

	return &sessionFixture{t: t, session: session, emitter: emitter, clock: clock}
}

func (f *sessionFixture) connect(id domain.ConnectionID) {
	f.emitter.accept(id)
	require.NoError(f.t, f.session.Connect(context.Background(), id, "127.0.0.1"))
}

func (f *sessionFixture) disconnect(id domain.ConnectionID) {
	f.emitter.detach(id)
	f.session.Disconnect(context.Background(), id)
}

func (f *sessionFixture) send(id domain.ConnectionID, messageType string, payload string) error {
	msg := domain.Message{Type: messageType}
	if payload != "" {
		msg.Payload = json.RawMessage(payload)
	}
	return f.session.HandleMessage(context.Background(), id, msg)
}

func (f *sessionFixture) register(id domain.ConnectionID, name string) {
	data, err := json.Marshal(name)
	require.NoError(f.t, err)
	require.NoError(f.t, f.send(id, domain.MessageRegister, string(data)))
}

// decodeEvent round-trips an event through JSON, the way the transport sends it.
func decodeEvent(t *testing.T, event domain.Event, v interface{}) {
	t.Helper()
	data, err := json.Marshal(event.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func usersIn(t *testing.T, event domain.Event) []domain.Identity {
	t.Helper()
	require.Equal(t, domain.EventUsersUpdated, event.Type)
	var users []domain.Identity
	decodeEvent(t, event, &users)
	return users
}

func namesOf(users []domain.Identity) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.DisplayName)
	}
	return names
}

func lastOfType(events []domain.Event, eventType string) (domain.Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return events[i], true
		}
	}
	return domain.Event{}, false
}

func typesOf(events []domain.Event) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}
