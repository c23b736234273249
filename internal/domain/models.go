// Package domain defines the persistence models for rooms, their message
// threads, and the chat messages posted to them. These types are mapped with
// GORM and form the core data layer of the chat backend.
package domain

import "time"

// Column widths shared by the models and the validation layer.
const (
	RoomIDMaxLen    = 50
	UsernameMaxLen  = 50
	TimestampMaxLen = 32
)

// Room is a named chat channel keyed by its client-chosen identifier.
//
// Fields:
//   - ID: the room key as sent by clients (e.g. "lobby").
//   - CreatedAt: set when the first message for the room is ingested.
type Room struct {
	ID        string    `json:"id"         gorm:"type:varchar(50);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// Thread is the persisted message collection of one room. The unique index
// on RoomID guarantees at most one thread per room, which is what resolves
// concurrent first messages to the same room.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RoomID: owning room; unique.
//   - CreatedAt / UpdatedAt: UpdatedAt moves on every appended message.
type Thread struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RoomID    string    `json:"room_id"    gorm:"type:varchar(50);not null;uniqueIndex:ux_threads_room"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Room Room `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Thread.
func (Thread) TableName() string { return "threads" }

// ChatMessage is one immutable message posted to a room. RoomID is
// denormalized from the owning thread so history can be served per room
// without a join.
//
// The JSON shape is the wire contract for history entries:
//
//	{id, content, timestamp, sender_id, sender_username, room_id}
type ChatMessage struct {
	ID             int64  `json:"id"              gorm:"primaryKey;autoIncrement"`
	ThreadID       string `json:"-"               gorm:"type:char(36);not null;index:idx_thread_msgs"`
	Content        string `json:"content"         gorm:"type:varchar(400);not null"`
	Timestamp      string `json:"timestamp"       gorm:"type:varchar(32);not null"`
	SenderID       int64  `json:"sender_id"       gorm:"not null"`
	SenderUsername string `json:"sender_username" gorm:"type:varchar(50);not null"`
	RoomID         string `json:"room_id"         gorm:"type:varchar(50);not null;index:idx_room_msgs"`

	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }
