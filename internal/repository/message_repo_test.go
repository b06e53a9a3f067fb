package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/novarell/expertdesk-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.Message{}))
	return db
}

func seedMessage(t *testing.T, db *gorm.DB, conversationID uint, senderID, senderRole string, createdAt time.Time, read bool) models.Message {
	t.Helper()
	message := models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     senderRole,
		Content:        "content",
		IsRead:         read,
		CreatedAt:      createdAt,
	}
	require.NoError(t, db.Create(&message).Error)
	return message
}

func TestMessageRepositoryListOrdersByCreation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	base := time.Now().UTC().Truncate(time.Second)

	seedMessage(t, db, 1, "cust-1", models.SenderRoleCustomer, base.Add(time.Minute), false)
	seedMessage(t, db, 1, "exp-1", models.SenderRoleExpert, base, false)
	seedMessage(t, db, 2, "cust-1", models.SenderRoleCustomer, base, false)

	messages, err := repo.ListByConversation(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "exp-1", messages[0].SenderID, "oldest first")
	require.Equal(t, "cust-1", messages[1].SenderID)
}

func TestMessageRepositoryMarkReadIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	message := seedMessage(t, db, 1, "exp-1", models.SenderRoleExpert, time.Now().UTC(), false)

	require.NoError(t, repo.MarkRead(ctx, message.ID))
	require.NoError(t, repo.MarkRead(ctx, message.ID), "second mark is a no-op, not an error")

	var stored models.Message
	require.NoError(t, db.First(&stored, message.ID).Error)
	require.True(t, stored.IsRead)
}

func TestMessageRepositoryMarkConversationRead(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seedMessage(t, db, 1, "exp-1", models.SenderRoleExpert, now, false)
	seedMessage(t, db, 1, "exp-1", models.SenderRoleExpert, now, false)
	seedMessage(t, db, 1, "cust-1", models.SenderRoleCustomer, now, false)
	seedMessage(t, db, 1, "admin-1", models.SenderRoleSystem, now, false)
	seedMessage(t, db, 2, "exp-1", models.SenderRoleExpert, now, false)

	flipped, err := repo.MarkConversationRead(ctx, 1, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), flipped, "self, system, and other conversations untouched")

	count, err := repo.CountUnread(ctx, 1, "cust-1")
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = repo.CountUnread(ctx, 2, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestMessageRepositoryUnreadByConversation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	now := time.Now().UTC()

	seedMessage(t, db, 1, "exp-1", models.SenderRoleExpert, now, false)
	seedMessage(t, db, 1, "exp-1", models.SenderRoleExpert, now, true)
	seedMessage(t, db, 2, "exp-1", models.SenderRoleExpert, now, false)
	seedMessage(t, db, 3, "cust-1", models.SenderRoleCustomer, now, false)

	counts, err := repo.UnreadByConversation(context.Background(), []uint{1, 2, 3}, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[1])
	require.Equal(t, int64(1), counts[2])
	require.Zero(t, counts[3], "own messages never count as unread")
}

func TestMessageRepositoryMarkNotified(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	message := seedMessage(t, db, 1, "cust-1", models.SenderRoleCustomer, time.Now().UTC(), false)

	require.NoError(t, repo.MarkNotified(ctx, message.ID))

	var stored models.Message
	require.NoError(t, db.First(&stored, message.ID).Error)
	require.True(t, stored.NotificationSent)
}

func TestMessageRepositoryLatestAndHasMessages(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	has, err := repo.HasMessages(ctx, 1)
	require.NoError(t, err)
	require.False(t, has)

	seedMessage(t, db, 1, "cust-1", models.SenderRoleCustomer, base, false)
	latest := seedMessage(t, db, 1, "exp-1", models.SenderRoleExpert, base.Add(time.Minute), false)

	has, err = repo.HasMessages(ctx, 1)
	require.NoError(t, err)
	require.True(t, has)

	stored, err := repo.LatestByConversation(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, latest.ID, stored.ID)
}
