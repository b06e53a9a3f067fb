package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind identifies a presence transition on a user channel.
type EventKind string

// Presence event kinds. Sync events carry a full membership verdict and are
// emitted on watch seeding and after transport reconnects.
const (
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
	EventSync  EventKind = "sync"
)

// PresenceEvent describes a change on a per-user broadcast channel.
type PresenceEvent struct {
	Kind    EventKind `json:"kind"`
	UserKey string    `json:"user_key"`
	Online  bool      `json:"online"`
	Source  string    `json:"source"`
	SentAt  time.Time `json:"sent_at"`
}

// Transport is the publish/subscribe primitive the chat core is written
// against. Implementations fan events out across nodes; watchers and topic
// subscribers are always local callbacks.
type Transport interface {
	// Announce records a connection (online=true) or disconnection of the
	// given user and broadcasts the transition to watchers on every node.
	Announce(ctx context.Context, userKey string, online bool) error

	// WatchPresence registers a callback for join/leave/sync events on the
	// per-user channel. The returned function removes the watcher.
	WatchPresence(userKey string, fn func(PresenceEvent)) func()

	// IsOnline reports current membership of the online set.
	IsOnline(ctx context.Context, userKey string) (bool, error)

	// Publish fans a payload out to all subscribers of the topic, local and
	// remote.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a local callback for a topic. The returned function
	// removes the subscription.
	Subscribe(topic string, fn func(payload []byte)) func()

	// Start launches the background consume loops.
	Start(ctx context.Context)
}

type busEvent struct {
	Source  string          `json:"source"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}
