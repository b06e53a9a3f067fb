package service

import (
	"sort"
	"time"

	"github.com/novarell/expertdesk-api/internal/dto"
	"github.com/novarell/expertdesk-api/internal/models"
)

// Conversation lifecycle stages derived from order state and message history.
const (
	StageActive = "active"
	StageReady  = "ready"
	StageClosed = "closed"
)

// ClassifyConversation derives the lifecycle stage of a conversation. It is a
// pure function of the order, message presence, and clock; callers recompute
// it on every read.
//
// Orders without an assigned expert are excluded from listing entirely (no
// counterpart to chat with): the second return value is false. Terminal
// orders stay active for the closing window after the status transition, then
// classify closed regardless of message count.
func ClassifyConversation(order models.Order, hasMessages bool, closingWindow time.Duration, now time.Time) (string, bool) {
	if !order.HasExpert() {
		return "", false
	}

	if models.IsTerminalStatus(order.Status) {
		if now.Sub(order.ClosedAt()) >= closingWindow {
			return StageClosed, true
		}
		return StageActive, true
	}

	if hasMessages {
		return StageActive, true
	}

	return StageReady, true
}

// sortActive orders summaries by most recent message or order update, newest
// first.
func sortActive(items []dto.ConversationSummary) {
	sort.SliceStable(items, func(i, j int) bool {
		return activityStamp(items[i]).After(activityStamp(items[j]))
	})
}

// sortByCreation orders summaries by order creation, newest first. Used for
// the ready and closed buckets.
func sortByCreation(items []dto.ConversationSummary) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func activityStamp(summary dto.ConversationSummary) time.Time {
	stamp := summary.UpdatedAt
	if summary.LastMessage != nil && summary.LastMessage.CreatedAt.After(stamp) {
		stamp = summary.LastMessage.CreatedAt
	}
	return stamp
}
