package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/models"
)

func conversationFixtureOrders(now time.Time) []models.Order {
	recent := now.Add(-time.Hour)
	stale := now.Add(-100 * time.Hour)
	return []models.Order{
		{ID: 1, Reference: "ORD-1", Status: models.OrderStatusInProgress, CustomerID: "cust-1", ExpertID: "exp-1", CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-time.Hour)},
		{ID: 2, Reference: "ORD-2", Status: models.OrderStatusNew, CustomerID: "cust-1", ExpertID: "exp-2", CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: 3, Reference: "ORD-3", Status: models.OrderStatusCompleted, StatusChangedAt: &stale, CustomerID: "cust-1", ExpertID: "exp-1", CreatedAt: now.Add(-200 * time.Hour), UpdatedAt: stale},
		{ID: 4, Reference: "ORD-4", Status: models.OrderStatusCompleted, StatusChangedAt: &recent, CustomerID: "cust-1", ExpertID: "exp-1", CreatedAt: now.Add(-50 * time.Hour), UpdatedAt: recent},
		{ID: 5, Reference: "ORD-5", Status: models.OrderStatusNew, CustomerID: "cust-1", CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)},
	}
}

func bucketIDs(items []dto.ConversationSummary) []uint {
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ConversationID)
	}
	return ids
}

func TestConversationListBuckets(t *testing.T) {
	now := time.Now().UTC()
	orders := conversationFixtureOrders(now)
	messageRepo := &stubMessageRepo{messages: []models.Message{
		{ID: 1, ConversationID: 1, SenderID: "exp-1", SenderRole: models.SenderRoleExpert, Content: "hello", CreatedAt: now.Add(-30 * time.Minute)},
		{ID: 2, ConversationID: 3, SenderID: "exp-1", SenderRole: models.SenderRoleExpert, Content: "done", IsRead: true, CreatedAt: now.Add(-100 * time.Hour)},
		{ID: 3, ConversationID: 4, SenderID: "cust-1", SenderRole: models.SenderRoleCustomer, Content: "thanks", CreatedAt: now.Add(-90 * time.Minute)},
	}}

	svc := NewConversationService(newStubOrderRepo(orders...), messageRepo, newStubTransport(), 48*time.Hour, zerolog.Nop())

	response, err := svc.List(context.Background(), "cust-1")
	require.NoError(t, err)

	require.ElementsMatch(t, []uint{1, 4}, bucketIDs(response.Active))
	require.ElementsMatch(t, []uint{2}, bucketIDs(response.Ready))
	require.ElementsMatch(t, []uint{3}, bucketIDs(response.Closed))

	// Order 5 has no expert and must not appear anywhere.
	all := append(bucketIDs(response.Active), append(bucketIDs(response.Ready), bucketIDs(response.Closed)...)...)
	require.NotContains(t, all, uint(5))

	// Unread badge and preview surface on the active conversation.
	for _, summary := range response.Active {
		if summary.ConversationID == 1 {
			require.Equal(t, int64(1), summary.UnreadCount)
			require.NotNil(t, summary.LastMessage)
			require.Equal(t, "hello", summary.LastMessage.Content)
		}
	}
}

func TestConversationListActiveSortedByActivity(t *testing.T) {
	now := time.Now().UTC()
	orders := conversationFixtureOrders(now)
	messageRepo := &stubMessageRepo{messages: []models.Message{
		{ID: 1, ConversationID: 1, SenderID: "exp-1", SenderRole: models.SenderRoleExpert, Content: "hello", CreatedAt: now.Add(-5 * time.Minute)},
	}}

	svc := NewConversationService(newStubOrderRepo(orders...), messageRepo, newStubTransport(), 48*time.Hour, zerolog.Nop())

	response, err := svc.List(context.Background(), "cust-1")
	require.NoError(t, err)
	require.NotEmpty(t, response.Active)
	require.Equal(t, uint(1), response.Active[0].ConversationID, "freshest message bubbles to the top")
}

func TestUnreadSummaryTotals(t *testing.T) {
	now := time.Now().UTC()
	orders := conversationFixtureOrders(now)
	messageRepo := &stubMessageRepo{messages: []models.Message{
		{ID: 1, ConversationID: 1, SenderID: "exp-1", SenderRole: models.SenderRoleExpert, Content: "a", CreatedAt: now},
		{ID: 2, ConversationID: 1, SenderID: "exp-1", SenderRole: models.SenderRoleExpert, Content: "b", CreatedAt: now},
		{ID: 3, ConversationID: 4, SenderID: "exp-1", SenderRole: models.SenderRoleExpert, Content: "c", CreatedAt: now},
		// Self-authored and system messages never count.
		{ID: 4, ConversationID: 1, SenderID: "cust-1", SenderRole: models.SenderRoleCustomer, Content: "d", CreatedAt: now},
		{ID: 5, ConversationID: 1, SenderID: "admin-1", SenderRole: models.SenderRoleSystem, Content: "e", CreatedAt: now},
	}}

	svc := NewConversationService(newStubOrderRepo(orders...), messageRepo, newStubTransport(), 48*time.Hour, zerolog.Nop())

	summary, err := svc.Unread(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), summary.Total)
	require.Equal(t, int64(2), summary.Conversations[1])
	require.Equal(t, int64(1), summary.Conversations[4])
	require.False(t, summary.ComputedAt.IsZero())
}

func TestUnreadEventsPushToSubscribers(t *testing.T) {
	now := time.Now().UTC()
	orders := conversationFixtureOrders(now)
	messageRepo := &stubMessageRepo{messages: []models.Message{
		{ID: 1, ConversationID: 1, SenderID: "exp-1", SenderRole: models.SenderRoleExpert, Content: "a", CreatedAt: now},
	}}
	transport := newStubTransport()

	svc := NewConversationService(newStubOrderRepo(orders...), messageRepo, transport, 48*time.Hour, zerolog.Nop())
	svc.Start(context.Background())

	stream, cancel := svc.SubscribeUnread("cust-1")
	defer cancel()

	payload, err := json.Marshal(unreadEvent{UserKey: "cust-1"})
	require.NoError(t, err)
	require.NoError(t, transport.Publish(context.Background(), topicUnread, payload))

	select {
	case summary := <-stream:
		require.Equal(t, int64(1), summary.Total)
	case <-time.After(time.Second):
		t.Fatal("expected an unread summary on the stream")
	}
}

func TestUnreadEventsIgnoreUnrelatedViewers(t *testing.T) {
	now := time.Now().UTC()
	transport := newStubTransport()
	svc := NewConversationService(newStubOrderRepo(conversationFixtureOrders(now)...), &stubMessageRepo{}, transport, 48*time.Hour, zerolog.Nop())
	svc.Start(context.Background())

	stream, cancel := svc.SubscribeUnread("cust-1")
	defer cancel()

	payload, err := json.Marshal(unreadEvent{UserKey: "someone-else"})
	require.NoError(t, err)
	require.NoError(t, transport.Publish(context.Background(), topicUnread, payload))

	select {
	case <-stream:
		t.Fatal("summary pushed for the wrong viewer")
	case <-time.After(50 * time.Millisecond):
	}
}
