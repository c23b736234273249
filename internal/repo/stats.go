// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-room-chat/internal/domain"
)

// RoomMessagesStats returns the number of messages stored for a room and the
// greatest message id among them. Message ids only grow, so the pair changes
// whenever the room's history does. An empty room yields (0, 0, nil).
func RoomMessagesStats(ctx context.Context, db *gorm.DB, roomID string) (count int64, lastID int64, err error) {
	if count, err = CountRoomMessages(ctx, db, roomID); err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}

	var row struct {
		ID int64
	}
	if err = db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Where("room_id = ?", roomID).
		Select("id").Order("id DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return count, row.ID, nil
}
