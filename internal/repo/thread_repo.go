package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-room-chat/internal/domain"
)

// ErrThreadExists is returned by CreateThread when another writer created the
// room's thread first. Callers should re-read with FindThread.
var ErrThreadExists = errors.New("thread already exists for room")

// FindThread returns the thread of a room, or ErrNotFound if the room has
// never received a message.
func FindThread(ctx context.Context, db *gorm.DB, roomID string) (*domain.Thread, error) {
	var t domain.Thread
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateThread inserts a new thread for roomID. The unique index on room_id
// turns a lost race into a no-op insert, reported as ErrThreadExists.
func CreateThread(ctx context.Context, db *gorm.DB, roomID string) (*domain.Thread, error) {
	now := time.Now().UTC()
	t := &domain.Thread{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "room_id"}}, DoNothing: true}).
		Create(t)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrThreadExists
	}
	return t, nil
}

// ListThreads returns every thread of a room, oldest first. The schema
// allows at most one, but history reads all of them so the result stays
// correct for stores migrated from a looser schema.
func ListThreads(ctx context.Context, db *gorm.DB, roomID string) ([]domain.Thread, error) {
	var out []domain.Thread
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// TouchThread bumps updated_at on a thread. If no rows are affected it
// returns ErrNotFound.
func TouchThread(ctx context.Context, db *gorm.DB, threadID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Thread{}).
		Where("id = ?", threadID).
		Update("updated_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
