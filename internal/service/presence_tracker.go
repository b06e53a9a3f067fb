package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/observability"
	"github.com/novarell/expertdesk-api/internal/realtime"
)

// PresenceTracker maintains, per viewer, whether the counterpart of the
// viewed conversation is currently connected. Sessions are created on
// conversation open and torn down on close; state never carries over between
// conversations.
type PresenceTracker struct {
	transport realtime.Transport
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*PresenceSession
}

// NewPresenceTracker constructs the tracker on top of the realtime transport.
func NewPresenceTracker(transport realtime.Transport, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		transport: transport,
		logger:    logger.With().Str("component", "presence_tracker").Logger(),
		now:       time.Now,
		sessions:  make(map[string]*PresenceSession),
	}
}

// PresenceSession is the ephemeral per (viewer, conversation) presence state.
type PresenceSession struct {
	conversationID uint
	viewerID       string
	otherID        string
	now            func() time.Time

	mu       sync.Mutex
	online   bool
	lastSeen *time.Time
	unwatch  func()
}

// Open creates a presence session for the viewer. Any previous session for
// the same viewer is torn down synchronously first, so a stale online flag
// can never leak into the new conversation. When no counterpart is assigned
// the session stays permanently offline and no subscription is created.
func (t *PresenceTracker) Open(ctx context.Context, viewerID string, conversationID uint, otherID string) *PresenceSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.sessions[viewerID]; ok {
		existing.teardown()
		delete(t.sessions, viewerID)
	}

	session := &PresenceSession{
		conversationID: conversationID,
		viewerID:       viewerID,
		otherID:        otherID,
		now:            t.now,
	}
	t.sessions[viewerID] = session

	if otherID == "" {
		return session
	}

	// Arm the guard before the watch goes live: the transport may deliver
	// events mid-registration, and those must not read as torn down. The
	// write happens under the session mutex because apply reads it there.
	session.mu.Lock()
	session.unwatch = func() {}
	session.mu.Unlock()

	unwatch := t.transport.WatchPresence(otherID, session.apply)
	session.mu.Lock()
	session.unwatch = unwatch
	session.mu.Unlock()

	// Seed from the current online set; the watch is already live so no
	// transition can slip between snapshot and subscription.
	online, err := t.transport.IsOnline(ctx, otherID)
	if err != nil {
		t.logger.Warn().Err(err).Str("other_id", otherID).Msg("presence snapshot failed, defaulting to offline")
		online = false
	}
	session.apply(realtime.PresenceEvent{Kind: realtime.EventSync, UserKey: otherID, Online: online, SentAt: t.now().UTC()})

	return session
}

// Close tears down the viewer's session, if any.
func (t *PresenceTracker) Close(viewerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if session, ok := t.sessions[viewerID]; ok {
		session.teardown()
		delete(t.sessions, viewerID)
	}
}

// State returns the presence snapshot for the viewer's current conversation.
// A missing session or a conversation mismatch reads as offline.
func (t *PresenceTracker) State(viewerID string, conversationID uint) dto.PresenceResponse {
	t.mu.Lock()
	session, ok := t.sessions[viewerID]
	t.mu.Unlock()

	if !ok || session.conversationID != conversationID {
		return dto.PresenceResponse{}
	}
	return session.State()
}

// State returns the session's current view of the counterpart.
func (s *PresenceSession) State() dto.PresenceResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dto.PresenceResponse{OtherUserOnline: s.online, OtherUserLastSeen: s.lastSeen}
}

func (s *PresenceSession) apply(event realtime.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unwatch == nil && s.otherID != "" {
		// Torn down; late events must not resurrect state.
		return
	}

	observability.PresenceEvents().WithLabelValues(string(event.Kind)).Inc()

	switch event.Kind {
	case realtime.EventJoin:
		s.online = true
	case realtime.EventLeave:
		s.online = false
		seen := s.now().UTC()
		s.lastSeen = &seen
	case realtime.EventSync:
		s.online = event.Online
	}
}

func (s *PresenceSession) teardown() {
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	s.online = false
	s.lastSeen = nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}
