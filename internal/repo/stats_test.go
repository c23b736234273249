package repo

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-room-chat/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedMessage(t *testing.T, db *gorm.DB, roomID, threadID, ts string) *domain.ChatMessage {
	t.Helper()
	m := &domain.ChatMessage{
		ThreadID: threadID, RoomID: roomID, Content: "hi", Timestamp: ts,
		SenderID: 1, SenderUsername: "alice",
	}
	if err := CreateMessage(context.Background(), db, m); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

func TestRoomMessagesStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := RoomMessagesStats(context.Background(), db, "lobby")
	if err == nil {
		t.Fatalf("expected error due to missing chat_messages table")
	}
}

func TestRoomMessagesStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.ChatMessage{})
	count, lastID, err := RoomMessagesStats(context.Background(), db, "lobby")
	if err != nil {
		t.Fatalf("RoomMessagesStats error: %v", err)
	}
	if count != 0 || lastID != 0 {
		t.Fatalf("expected (0, 0), got (%d, %d)", count, lastID)
	}
}

func TestRoomMessagesStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.ChatMessage{})

	seedMessage(t, db, "lobby", "t1", "2024-01-01T00:00:00")
	last := seedMessage(t, db, "lobby", "t1", "2024-01-01T00:00:01")
	seedMessage(t, db, "other", "t2", "2024-01-01T00:00:02")

	count, lastID, err := RoomMessagesStats(context.Background(), db, "lobby")
	if err != nil {
		t.Fatalf("RoomMessagesStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if lastID != last.ID {
		t.Fatalf("expected lastID %d, got %d", last.ID, lastID)
	}
}

// Force the second query (SELECT id ...) to fail by renaming the column.
func TestRoomMessagesStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.ChatMessage{})
	seedMessage(t, db, "lobby", "t1", "2024-01-01T00:00:00")

	if err := db.Exec(`ALTER TABLE chat_messages RENAME COLUMN id TO id_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	_, _, err := RoomMessagesStats(context.Background(), db, "lobby")
	if err == nil {
		t.Fatalf("expected error from latest-id select after column rename")
	}
}

func TestRoomMessagesStats_CountMatchesCountRoomMessages(t *testing.T) {
	db := newTestDB(t, &domain.ChatMessage{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedMessage(t, db, "lobby", "t1", fmt.Sprintf("2024-01-01T00:00:0%d", i))
	}
	seedMessage(t, db, "other", "t2", "2024-01-01T00:00:00")

	count, _, err := RoomMessagesStats(ctx, db, "lobby")
	if err != nil {
		t.Fatalf("RoomMessagesStats error: %v", err)
	}
	direct, err := CountRoomMessages(ctx, db, "lobby")
	if err != nil {
		t.Fatalf("CountRoomMessages error: %v", err)
	}
	if count != 5 || direct != count {
		t.Fatalf("stats count %d, direct count %d; want 5", count, direct)
	}
}
