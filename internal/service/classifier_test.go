package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/models"
)

func classifierOrder(status string, changedAgo time.Duration, now time.Time) models.Order {
	changed := now.Add(-changedAgo)
	return models.Order{
		ID:           1,
		Status:       status,
		ExpertID:     "exp-1",
		ExpertName:   "Dana",
		CustomerID:   "cust-1",
		CustomerName: "Rex",
		StatusChangedAt: func() *time.Time {
			return &changed
		}(),
	}
}

func TestClassifyConversationNoExpertExcluded(t *testing.T) {
	now := time.Now().UTC()
	order := classifierOrder(models.OrderStatusCompleted, 100*time.Hour, now)
	order.ExpertID = ""

	// With or without messages, an order with no expert never lands in a bucket.
	for _, hasMessages := range []bool{true, false} {
		_, listed := ClassifyConversation(order, hasMessages, 48*time.Hour, now)
		require.False(t, listed)
	}
}

func TestClassifyConversationTerminalWithinWindowStaysActive(t *testing.T) {
	now := time.Now().UTC()
	order := classifierOrder(models.OrderStatusCompleted, 47*time.Hour+59*time.Minute, now)

	stage, listed := ClassifyConversation(order, true, 48*time.Hour, now)
	require.True(t, listed)
	require.Equal(t, StageActive, stage)
}

func TestClassifyConversationTerminalPastWindowCloses(t *testing.T) {
	now := time.Now().UTC()
	order := classifierOrder(models.OrderStatusCompleted, 48*time.Hour+time.Minute, now)

	stage, listed := ClassifyConversation(order, true, 48*time.Hour, now)
	require.True(t, listed)
	require.Equal(t, StageClosed, stage)

	// No messages changes nothing once terminal and past the window.
	stage, listed = ClassifyConversation(order, false, 48*time.Hour, now)
	require.True(t, listed)
	require.Equal(t, StageClosed, stage)
}

func TestClassifyConversationTerminalStatuses(t *testing.T) {
	now := time.Now().UTC()
	for _, status := range []string{models.OrderStatusCompleted, models.OrderStatusCancelled, models.OrderStatusRefunded} {
		order := classifierOrder(status, 72*time.Hour, now)
		stage, listed := ClassifyConversation(order, true, 48*time.Hour, now)
		require.True(t, listed)
		require.Equal(t, StageClosed, stage, "status %s", status)
	}
}

func TestClassifyConversationOpenWithMessagesIsActive(t *testing.T) {
	now := time.Now().UTC()
	order := classifierOrder(models.OrderStatusInProgress, time.Hour, now)

	stage, listed := ClassifyConversation(order, true, 48*time.Hour, now)
	require.True(t, listed)
	require.Equal(t, StageActive, stage)
}

func TestClassifyConversationOpenWithoutMessagesIsReady(t *testing.T) {
	now := time.Now().UTC()
	order := classifierOrder(models.OrderStatusNew, time.Hour, now)

	stage, listed := ClassifyConversation(order, false, 48*time.Hour, now)
	require.True(t, listed)
	require.Equal(t, StageReady, stage)
}

func TestSortActiveUsesLatestActivity(t *testing.T) {
	now := time.Now().UTC()
	quiet := dto.ConversationSummary{ConversationID: 1, UpdatedAt: now.Add(-2 * time.Hour)}
	busy := dto.ConversationSummary{
		ConversationID: 2,
		UpdatedAt:      now.Add(-3 * time.Hour),
		LastMessage:    &dto.MessageResponse{CreatedAt: now.Add(-10 * time.Minute)},
	}

	items := []dto.ConversationSummary{quiet, busy}
	sortActive(items)
	require.Equal(t, uint(2), items[0].ConversationID, "recent message outranks older order update")
}

func TestSortByCreationNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	items := []dto.ConversationSummary{
		{ConversationID: 1, CreatedAt: now.Add(-2 * time.Hour)},
		{ConversationID: 2, CreatedAt: now.Add(-time.Hour)},
	}

	sortByCreation(items)
	require.Equal(t, uint(2), items[0].ConversationID)
}
