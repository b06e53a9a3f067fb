package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/novarell/expertdesk-api/internal/realtime"
)

type stubTransport struct {
	mu       sync.Mutex
	online   map[string]bool
	watchers map[string]map[int]func(realtime.PresenceEvent)
	subs     map[string][]func([]byte)
	seq      int
	isOnline func(userKey string) (bool, error)
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		online:   make(map[string]bool),
		watchers: make(map[string]map[int]func(realtime.PresenceEvent)),
		subs:     make(map[string][]func([]byte)),
	}
}

func (s *stubTransport) Announce(_ context.Context, userKey string, online bool) error {
	s.mu.Lock()
	s.online[userKey] = online
	callbacks := make([]func(realtime.PresenceEvent), 0, len(s.watchers[userKey]))
	for _, fn := range s.watchers[userKey] {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	kind := realtime.EventJoin
	if !online {
		kind = realtime.EventLeave
	}
	for _, fn := range callbacks {
		fn(realtime.PresenceEvent{Kind: kind, UserKey: userKey, Online: online, SentAt: time.Now().UTC()})
	}
	return nil
}

func (s *stubTransport) WatchPresence(userKey string, fn func(realtime.PresenceEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[userKey]; !ok {
		s.watchers[userKey] = make(map[int]func(realtime.PresenceEvent))
	}
	s.seq++
	id := s.seq
	s.watchers[userKey][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[userKey], id)
	}
}

func (s *stubTransport) IsOnline(_ context.Context, userKey string) (bool, error) {
	if s.isOnline != nil {
		return s.isOnline(userKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userKey], nil
}

func (s *stubTransport) Publish(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	callbacks := append([]func([]byte){}, s.subs[topic]...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(payload)
	}
	return nil
}

func (s *stubTransport) Subscribe(topic string, fn func([]byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[topic] = append(s.subs[topic], fn)
	return func() {}
}

func (s *stubTransport) Start(context.Context) {}

func (s *stubTransport) watcherCount(userKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[userKey])
}

func TestPresenceTrackerDefaultsOffline(t *testing.T) {
	transport := newStubTransport()
	tracker := NewPresenceTracker(transport, zerolog.Nop())

	tracker.Open(context.Background(), "viewer", 1, "other")

	state := tracker.State("viewer", 1)
	require.False(t, state.OtherUserOnline)
	require.Nil(t, state.OtherUserLastSeen)
}

func TestPresenceTrackerSeedsFromSnapshot(t *testing.T) {
	transport := newStubTransport()
	transport.online["other"] = true
	tracker := NewPresenceTracker(transport, zerolog.Nop())

	tracker.Open(context.Background(), "viewer", 1, "other")

	state := tracker.State("viewer", 1)
	require.True(t, state.OtherUserOnline)
}

func TestPresenceTrackerJoinAndLeave(t *testing.T) {
	transport := newStubTransport()
	tracker := NewPresenceTracker(transport, zerolog.Nop())
	ctx := context.Background()

	tracker.Open(ctx, "viewer", 1, "other")

	require.NoError(t, transport.Announce(ctx, "other", true))
	require.True(t, tracker.State("viewer", 1).OtherUserOnline)

	require.NoError(t, transport.Announce(ctx, "other", false))
	state := tracker.State("viewer", 1)
	require.False(t, state.OtherUserOnline)
	require.NotNil(t, state.OtherUserLastSeen, "leave records last seen")
}

func TestPresenceTrackerResetsOnConversationSwitch(t *testing.T) {
	transport := newStubTransport()
	tracker := NewPresenceTracker(transport, zerolog.Nop())
	ctx := context.Background()

	tracker.Open(ctx, "viewer", 1, "other")
	require.NoError(t, transport.Announce(ctx, "other", true))
	require.True(t, tracker.State("viewer", 1).OtherUserOnline)

	// Switching conversations tears the old session down before the new one
	// seeds; the online flag from conversation 1 must not leak.
	tracker.Open(ctx, "viewer", 2, "someone-else")
	require.Equal(t, 0, transport.watcherCount("other"), "old watch removed")

	state := tracker.State("viewer", 2)
	require.False(t, state.OtherUserOnline)

	// The old conversation no longer answers for this viewer.
	require.False(t, tracker.State("viewer", 1).OtherUserOnline)
}

func TestPresenceTrackerNoCounterpartStaysOffline(t *testing.T) {
	transport := newStubTransport()
	transport.online["other"] = true
	tracker := NewPresenceTracker(transport, zerolog.Nop())

	tracker.Open(context.Background(), "viewer", 1, "")

	require.False(t, tracker.State("viewer", 1).OtherUserOnline)
	require.Equal(t, 0, transport.watcherCount(""), "no watch for missing counterpart")
}

func TestPresenceTrackerCloseStopsUpdates(t *testing.T) {
	transport := newStubTransport()
	tracker := NewPresenceTracker(transport, zerolog.Nop())
	ctx := context.Background()

	tracker.Open(ctx, "viewer", 1, "other")
	tracker.Close("viewer")

	require.NoError(t, transport.Announce(ctx, "other", true))
	require.False(t, tracker.State("viewer", 1).OtherUserOnline)
}

// registrationDispatchTransport fires a leave event from another goroutine
// the moment a watch registers, before Open has stored the cancel func.
type registrationDispatchTransport struct {
	*stubTransport
	dispatched sync.WaitGroup
}

func (r *registrationDispatchTransport) WatchPresence(userKey string, fn func(realtime.PresenceEvent)) func() {
	cancel := r.stubTransport.WatchPresence(userKey, fn)
	r.dispatched.Add(1)
	go func() {
		defer r.dispatched.Done()
		fn(realtime.PresenceEvent{Kind: realtime.EventLeave, UserKey: userKey, SentAt: time.Now().UTC()})
	}()
	return cancel
}

func TestPresenceTrackerAppliesEventsDuringWatchRegistration(t *testing.T) {
	transport := &registrationDispatchTransport{stubTransport: newStubTransport()}
	tracker := NewPresenceTracker(transport, zerolog.Nop())

	tracker.Open(context.Background(), "viewer", 1, "other")
	transport.dispatched.Wait()

	state := tracker.State("viewer", 1)
	require.False(t, state.OtherUserOnline)
	require.NotNil(t, state.OtherUserLastSeen, "a leave delivered while the watch registers must not be dropped")
}

func TestPresenceTrackerSyncOfflineOverridesOnline(t *testing.T) {
	transport := newStubTransport()
	transport.online["other"] = true
	tracker := NewPresenceTracker(transport, zerolog.Nop())
	ctx := context.Background()

	session := tracker.Open(ctx, "viewer", 1, "other")
	require.True(t, tracker.State("viewer", 1).OtherUserOnline)

	// Transport feed drop pushes a conservative offline sync.
	session.apply(realtime.PresenceEvent{Kind: realtime.EventSync, UserKey: "other", Online: false, SentAt: time.Now().UTC()})
	require.False(t, tracker.State("viewer", 1).OtherUserOnline)
}
