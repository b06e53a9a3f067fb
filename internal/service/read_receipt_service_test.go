package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/novarell/expertdesk-api/internal/models"
)

type stubMessageRepo struct {
	mu           sync.Mutex
	messages     []models.Message
	markReadErr  error
	marked       []uint
	batchFlipped int64
	batchErr     error
	notified     []uint
}

func (s *stubMessageRepo) Insert(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message.ID = uint(len(s.messages) + 1)
	message.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, *message)
	return nil
}

func (s *stubMessageRepo) ListByConversation(_ context.Context, conversationID uint) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubMessageRepo) LatestByConversation(_ context.Context, conversationID uint) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ConversationID == conversationID {
			return s.messages[i], nil
		}
	}
	return models.Message{}, gorm.ErrRecordNotFound
}

func (s *stubMessageRepo) HasMessages(_ context.Context, conversationID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubMessageRepo) MarkRead(_ context.Context, messageID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markReadErr != nil {
		return s.markReadErr
	}
	s.marked = append(s.marked, messageID)
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].IsRead = true
		}
	}
	return nil
}

func (s *stubMessageRepo) MarkConversationRead(_ context.Context, conversationID uint, viewerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return 0, s.batchErr
	}
	var flipped int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID == conversationID && m.SenderID != viewerID && m.SenderRole != models.SenderRoleSystem && !m.IsRead {
			m.IsRead = true
			flipped++
		}
	}
	s.batchFlipped = flipped
	return flipped, nil
}

func (s *stubMessageRepo) MarkNotified(_ context.Context, messageID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, messageID)
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].NotificationSent = true
		}
	}
	return nil
}

func (s *stubMessageRepo) CountUnread(_ context.Context, conversationID uint, viewerID string) (int64, error) {
	counts, err := s.UnreadByConversation(context.Background(), []uint{conversationID}, viewerID)
	if err != nil {
		return 0, err
	}
	return counts[conversationID], nil
}

func (s *stubMessageRepo) UnreadByConversation(_ context.Context, conversationIDs []uint, viewerID string) (map[uint]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[uint]int64, len(conversationIDs))
	wanted := make(map[uint]struct{}, len(conversationIDs))
	for _, id := range conversationIDs {
		wanted[id] = struct{}{}
	}
	for _, m := range s.messages {
		if _, ok := wanted[m.ConversationID]; !ok {
			continue
		}
		if m.CountsTowardUnread(viewerID) {
			counts[m.ConversationID]++
		}
	}
	return counts, nil
}

func TestOnMessageReceivedMarksCounterpartMessage(t *testing.T) {
	repo := &stubMessageRepo{}
	svc := NewReadReceiptService(repo, zerolog.Nop())

	message := models.Message{ID: 7, SenderID: "expert-1", SenderRole: models.SenderRoleExpert}
	marked := svc.OnMessageReceived(context.Background(), message, "cust-1")

	require.True(t, marked.IsRead)
	require.Equal(t, []uint{7}, repo.marked)
}

func TestOnMessageReceivedSkipsSelfSystemAndRead(t *testing.T) {
	repo := &stubMessageRepo{}
	svc := NewReadReceiptService(repo, zerolog.Nop())
	ctx := context.Background()

	self := svc.OnMessageReceived(ctx, models.Message{ID: 1, SenderID: "cust-1", SenderRole: models.SenderRoleCustomer}, "cust-1")
	require.False(t, self.IsRead)

	system := svc.OnMessageReceived(ctx, models.Message{ID: 2, SenderID: "admin-1", SenderRole: models.SenderRoleSystem}, "cust-1")
	require.False(t, system.IsRead)

	already := svc.OnMessageReceived(ctx, models.Message{ID: 3, SenderID: "expert-1", SenderRole: models.SenderRoleExpert, IsRead: true}, "cust-1")
	require.True(t, already.IsRead)

	require.Empty(t, repo.marked)
}

func TestOnMessageReceivedKeepsOptimisticStateOnFailure(t *testing.T) {
	repo := &stubMessageRepo{markReadErr: errors.New("connection reset")}
	svc := NewReadReceiptService(repo, zerolog.Nop())

	marked := svc.OnMessageReceived(context.Background(), models.Message{ID: 5, SenderID: "expert-1", SenderRole: models.SenderRoleExpert}, "cust-1")
	require.True(t, marked.IsRead, "optimistic read state survives a store failure")
}

func TestOnConversationOpenedBatchMarks(t *testing.T) {
	repo := &stubMessageRepo{messages: []models.Message{
		{ID: 1, ConversationID: 9, SenderID: "expert-1", SenderRole: models.SenderRoleExpert},
		{ID: 2, ConversationID: 9, SenderID: "expert-1", SenderRole: models.SenderRoleExpert},
		{ID: 3, ConversationID: 9, SenderID: "cust-1", SenderRole: models.SenderRoleCustomer},
		{ID: 4, ConversationID: 9, SenderID: "admin-1", SenderRole: models.SenderRoleSystem},
	}}
	svc := NewReadReceiptService(repo, zerolog.Nop())

	flipped, err := svc.OnConversationOpened(context.Background(), 9, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), flipped, "self and system messages stay untouched")
}

func TestMergeMessagesDeduplicatesByID(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	local := []models.Message{
		{ID: 1, Content: "hello", CreatedAt: base},
		{ID: 2, Content: "pending", IsRead: true, CreatedAt: base.Add(time.Minute)},
	}
	confirmed := []models.Message{
		{ID: 1, Content: "hello", CreatedAt: base},
		{ID: 2, Content: "pending", CreatedAt: base.Add(time.Minute)},
		{ID: 3, Content: "new", CreatedAt: base.Add(2 * time.Minute)},
	}

	merged := MergeMessages(local, confirmed)
	require.Len(t, merged, 3)
	require.Equal(t, uint(1), merged[0].ID)
	require.Equal(t, uint(2), merged[1].ID)
	require.Equal(t, uint(3), merged[2].ID)
	require.True(t, merged[1].IsRead, "read state only ever moves forward")
}

func TestMergeMessagesOrdersByTimestampThenID(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	local := []models.Message{{ID: 4, CreatedAt: base}}
	confirmed := []models.Message{
		{ID: 2, CreatedAt: base},
		{ID: 1, CreatedAt: base.Add(-time.Minute)},
	}

	merged := MergeMessages(local, confirmed)
	require.Equal(t, []uint{1, 2, 4}, []uint{merged[0].ID, merged[1].ID, merged[2].ID})
}
