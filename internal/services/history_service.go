package services

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-room-chat/internal/domain"
	"github.com/tbourn/go-room-chat/internal/repo"
)

// HistoryService resolves the ordered message history of a room.
type HistoryService struct {
	DB *gorm.DB
}

// History returns every message stored for roomID, ordered by timestamp
// ascending. Timestamps compare as instants whatever form they were sent in;
// equal instants keep insertion order. A room that has never received a
// message yields an empty slice.
// Read failures are returned as *StorageError, never as an empty result.
func (s *HistoryService) History(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	tr := otel.Tracer("services/HistoryService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(attribute.String("room.id", roomID)),
	)
	defer span.End()

	threads, err := repo.ListThreads(ctx, s.DB, roomID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list threads")
		return nil, &StorageError{Op: "history", Err: err}
	}
	if len(threads) == 0 {
		return []domain.ChatMessage{}, nil
	}

	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	msgs, err := repo.ListThreadMessages(ctx, s.DB, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list messages")
		return nil, &StorageError{Op: "history", Err: err}
	}

	sortByTimestamp(msgs)
	span.SetAttributes(attribute.Int("messages", len(msgs)))
	return msgs, nil
}

// Stats returns the message count and greatest message id of a room, used
// to build conditional-request validators.
func (s *HistoryService) Stats(ctx context.Context, roomID string) (count int64, lastID int64, err error) {
	count, lastID, err = repo.RoomMessagesStats(ctx, s.DB, roomID)
	if err != nil {
		return 0, 0, &StorageError{Op: "stats", Err: err}
	}
	return count, lastID, nil
}

// sortByTimestamp orders msgs by parsed timestamp, stable on the retrieval
// (id) order. Rows whose timestamp no longer parses go last, compared as
// strings.
func sortByTimestamp(msgs []domain.ChatMessage) {
	type key struct {
		at time.Time
		ok bool
	}
	keys := make([]key, len(msgs))
	for i := range msgs {
		at, ok := parseTimestamp(msgs[i].Timestamp)
		keys[i] = key{at: at, ok: ok}
	}
	idx := make([]int, len(msgs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		switch {
		case ka.ok && kb.ok:
			return ka.at.Before(kb.at)
		case ka.ok != kb.ok:
			return ka.ok
		default:
			return msgs[idx[a]].Timestamp < msgs[idx[b]].Timestamp
		}
	})
	sorted := make([]domain.ChatMessage, len(msgs))
	for i, j := range idx {
		sorted[i] = msgs[j]
	}
	copy(msgs, sorted)
}
