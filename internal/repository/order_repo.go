package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/novarell/expertdesk-api/internal/models"
)

// OrderRepository reads and mutates the order records conversations hang off.
type OrderRepository interface {
	FindByID(ctx context.Context, id uint) (models.Order, error)
	ListByParticipant(ctx context.Context, userID string) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	AssignExpert(ctx context.Context, id uint, expertID, expertName, expertEmail string) error
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository constructs an order repository backed by GORM.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) FindByID(ctx context.Context, id uint) (models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		return models.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByParticipant(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? OR expert_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus records a status transition and stamps status_changed_at, the
// timestamp the conversation classifier keys its closing window off.
func (r *orderRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":            status,
		"status_changed_at": now,
	}
	if status == models.OrderStatusCompleted {
		updates["completed_at"] = now
	}

	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *orderRepository) AssignExpert(ctx context.Context, id uint, expertID, expertName, expertEmail string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"expert_id":    expertID,
			"expert_name":  expertName,
			"expert_email": expertEmail,
		}).Error
}
