package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const reconnectBackoff = 2 * time.Second

// Bus implements Transport over Redis pub/sub and NATS, with an in-process
// fallback when neither is configured. Local callbacks always receive events
// directly; remote copies are filtered by node ID.
type Bus struct {
	redis           *redis.Client
	nats            *nats.Conn
	presenceChannel string
	eventChannel    string
	presenceSubject string
	eventSubject    string
	onlineSetKey    string
	nodeID          string
	logger          zerolog.Logger
	now             func() time.Time

	mu          sync.RWMutex
	connections map[string]int
	watchers    map[string]map[uint64]func(PresenceEvent)
	subs        map[string]map[uint64]func([]byte)
	seq         uint64
}

// NewBus constructs the transport. Both redisClient and natsConn may be nil;
// the bus then degrades to single-node in-process delivery.
func NewBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *Bus {
	presenceChannel := ""
	eventChannel := ""
	presenceSubject := ""
	eventSubject := ""
	onlineSetKey := ""
	if channelBase != "" {
		presenceChannel = channelBase + ":presence"
		eventChannel = channelBase + ":events"
		dotted := strings.ReplaceAll(channelBase, ":", ".")
		presenceSubject = dotted + ".presence"
		eventSubject = dotted + ".events"
		onlineSetKey = channelBase + ":online"
	}

	return &Bus{
		redis:           redisClient,
		nats:            natsConn,
		presenceChannel: presenceChannel,
		eventChannel:    eventChannel,
		presenceSubject: presenceSubject,
		eventSubject:    eventSubject,
		onlineSetKey:    onlineSetKey,
		nodeID:          uuid.NewString(),
		logger:          logger.With().Str("component", "realtime_bus").Logger(),
		now:             time.Now,
		connections:     make(map[string]int),
		watchers:        make(map[string]map[uint64]func(PresenceEvent)),
		subs:            make(map[string]map[uint64]func([]byte)),
	}
}

// Start launches the cross-node consume loops.
func (b *Bus) Start(ctx context.Context) {
	if b.redis != nil && b.presenceChannel != "" {
		go b.consumeRedis(ctx, b.presenceChannel, b.handlePresencePayload)
		go b.consumeRedis(ctx, b.eventChannel, b.handleEventPayload)
	}
	if b.nats != nil && b.presenceSubject != "" {
		b.consumeNATS(ctx, b.presenceSubject, b.handlePresencePayload)
		b.consumeNATS(ctx, b.eventSubject, b.handleEventPayload)
	}
}

func (b *Bus) Announce(ctx context.Context, userKey string, online bool) error {
	if userKey == "" {
		return errors.New("user key must not be empty")
	}

	b.mu.Lock()
	transition := false
	if online {
		b.connections[userKey]++
		transition = b.connections[userKey] == 1
	} else {
		if b.connections[userKey] > 0 {
			b.connections[userKey]--
		}
		if b.connections[userKey] == 0 {
			delete(b.connections, userKey)
			transition = true
		}
	}
	b.mu.Unlock()

	if !transition {
		return nil
	}

	if b.redis != nil && b.onlineSetKey != "" {
		var err error
		if online {
			err = b.redis.SAdd(ctx, b.onlineSetKey, userKey).Err()
		} else {
			err = b.redis.SRem(ctx, b.onlineSetKey, userKey).Err()
		}
		if err != nil {
			b.logger.Warn().Err(err).Str("user_key", userKey).Msg("failed to update online set")
		}
	}

	kind := EventJoin
	if !online {
		kind = EventLeave
	}
	event := PresenceEvent{
		Kind:    kind,
		UserKey: userKey,
		Online:  online,
		Source:  b.nodeID,
		SentAt:  b.now().UTC(),
	}

	b.dispatchPresence(event)

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if b.redis != nil && b.presenceChannel != "" {
		if err := b.redis.Publish(ctx, b.presenceChannel, payload).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.presenceSubject != "" {
		if err := b.nats.Publish(b.presenceSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bus) WatchPresence(userKey string, fn func(PresenceEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.watchers[userKey]; !exists {
		b.watchers[userKey] = make(map[uint64]func(PresenceEvent))
	}
	b.seq++
	id := b.seq
	b.watchers[userKey][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if watchers, ok := b.watchers[userKey]; ok {
			delete(watchers, id)
			if len(watchers) == 0 {
				delete(b.watchers, userKey)
			}
		}
	}
}

func (b *Bus) IsOnline(ctx context.Context, userKey string) (bool, error) {
	if userKey == "" {
		return false, nil
	}

	if b.redis != nil && b.onlineSetKey != "" {
		online, err := b.redis.SIsMember(ctx, b.onlineSetKey, userKey).Result()
		if err == nil {
			return online, nil
		}
		b.logger.Warn().Err(err).Str("user_key", userKey).Msg("online set lookup failed, falling back to local state")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connections[userKey] > 0, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.dispatchTopic(topic, payload)

	event := busEvent{
		Source:  b.nodeID,
		Topic:   topic,
		Payload: json.RawMessage(payload),
		SentAt:  b.now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if b.redis != nil && b.eventChannel != "" {
		if err := b.redis.Publish(ctx, b.eventChannel, data).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.eventSubject != "" {
		if err := b.nats.Publish(b.eventSubject, data); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bus) Subscribe(topic string, fn func([]byte)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[topic]; !exists {
		b.subs[topic] = make(map[uint64]func([]byte))
	}
	b.seq++
	id := b.seq
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
		}
	}
}

func (b *Bus) dispatchPresence(event PresenceEvent) {
	b.mu.RLock()
	callbacks := make([]func(PresenceEvent), 0, len(b.watchers[event.UserKey]))
	for _, fn := range b.watchers[event.UserKey] {
		callbacks = append(callbacks, fn)
	}
	b.mu.RUnlock()

	for _, fn := range callbacks {
		fn(event)
	}
}

func (b *Bus) dispatchTopic(topic string, payload []byte) {
	b.mu.RLock()
	callbacks := make([]func([]byte), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		callbacks = append(callbacks, fn)
	}
	b.mu.RUnlock()

	for _, fn := range callbacks {
		fn(payload)
	}
}

// markWatchersOffline pushes a conservative offline sync to every watcher.
// Called when the cross-node feed drops: unknown is never treated as online.
func (b *Bus) markWatchersOffline() {
	b.mu.RLock()
	type pending struct {
		key string
		fn  func(PresenceEvent)
	}
	var callbacks []pending
	for key, watchers := range b.watchers {
		for _, fn := range watchers {
			callbacks = append(callbacks, pending{key: key, fn: fn})
		}
	}
	b.mu.RUnlock()

	sentAt := b.now().UTC()
	for _, cb := range callbacks {
		cb.fn(PresenceEvent{Kind: EventSync, UserKey: cb.key, Online: false, Source: b.nodeID, SentAt: sentAt})
	}
}

func (b *Bus) handlePresencePayload(data []byte) {
	var event PresenceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		b.logger.Warn().Err(err).Msg("invalid presence event payload")
		return
	}

	if event.Source == b.nodeID {
		return
	}

	b.dispatchPresence(event)
}

func (b *Bus) handleEventPayload(data []byte) {
	var event busEvent
	if err := json.Unmarshal(data, &event); err != nil {
		b.logger.Warn().Err(err).Msg("invalid bus event payload")
		return
	}

	if event.Source == b.nodeID {
		return
	}

	b.dispatchTopic(event.Topic, event.Payload)
}

func (b *Bus) consumeRedis(ctx context.Context, channel string, handle func([]byte)) {
	for {
		pubsub := b.redis.Subscribe(ctx, channel)

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				_ = pubsub.Close()
				if errors.Is(err, context.Canceled) {
					return
				}
				b.logger.Error().Err(err).Str("channel", channel).Msg("redis subscription dropped")
				b.markWatchersOffline()
				break
			}
			handle([]byte(msg.Payload))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (b *Bus) consumeNATS(ctx context.Context, subject string, handle func([]byte)) {
	sub, err := b.nats.Subscribe(subject, func(msg *nats.Msg) {
		handle(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Str("subject", subject).Msg("failed to subscribe to nats subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("failed to drain nats subscription")
		}
	}()
}
