// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChatMessage model.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-room-chat/internal/domain"
)

// CreateMessage inserts m and fills its autoincrement ID.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.ChatMessage) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

// ListThreadMessages returns the messages of the given threads in insertion
// order (id ASC). An empty threadIDs yields an empty result without a query.
func ListThreadMessages(ctx context.Context, db *gorm.DB, threadIDs []string) ([]domain.ChatMessage, error) {
	out := []domain.ChatMessage{}
	if len(threadIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("thread_id IN ?", threadIDs).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// CountRoomMessages uses a raw COUNT so a missing table surfaces as an error.
func CountRoomMessages(ctx context.Context, db *gorm.DB, roomID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM chat_messages WHERE room_id = ?", roomID).
		Scan(&total).Error
	return total, err
}
