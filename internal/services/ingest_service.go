// Package services – IngestService
//
// This file implements IngestService, the application-level component that
// accepts a chat message for a room, validates it, locates or creates the
// room's thread, and persists the message atomically. Transient storage
// failures are retried a bounded number of times; exhausted retries are
// reported to the caller instead of being dropped.
//
// Observability: Ingest is OpenTelemetry-instrumented and counts outcomes in
// chat_messages_ingested_total{result}.

package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-room-chat/internal/config"
	"github.com/tbourn/go-room-chat/internal/domain"
	"github.com/tbourn/go-room-chat/internal/repo"
)

var ingested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chat_messages_ingested_total",
		Help: "Chat messages submitted for ingestion, by outcome.",
	},
	[]string{"result"}, // ok|validation_error|storage_failure
)

func init() {
	prometheus.MustRegister(ingested)
}

// timestampLayouts are the ISO-8601 forms accepted for client timestamps.
// The value is stored verbatim; history orders by the parsed instant, and
// forms without a zone are read as UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// IngestRequest is one message as submitted by a client.
type IngestRequest struct {
	RoomID         string
	Content        string
	Timestamp      string
	SenderID       *int64
	SenderUsername string
}

// IngestService validates and persists chat messages.
type IngestService struct {
	DB *gorm.DB

	// Optional guards; zero values fall back to defaults.
	MaxContentRunes int
	MaxAttempts     int
	RetryBackoff    time.Duration
}

// NewIngestService builds an IngestService from configuration.
func NewIngestService(db *gorm.DB, cfg config.IngestConfig) *IngestService {
	return &IngestService{
		DB:              db,
		MaxContentRunes: cfg.MaxContentRunes,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
	}
}

// Ingest validates req, then appends it to the room's thread. It returns the
// stored message (with its assigned ID) only after the write has committed.
//
// Errors:
//   - *ValidationError (errors.Is ErrValidation) for malformed input
//   - *StorageError (errors.Is ErrStorage) once retries are exhausted or ctx
//     is cancelled mid-retry
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*domain.ChatMessage, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(attribute.String("room.id", req.RoomID)),
	)
	defer span.End()

	msg, err := s.validate(req)
	if err != nil {
		ingested.WithLabelValues("validation_error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := s.wait(ctx, attempt-1); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
		m := *msg
		if lastErr = s.persist(ctx, &m); lastErr == nil {
			span.SetAttributes(attribute.Int64("message.id", m.ID), attribute.Int("attempts", attempt))
			ingested.WithLabelValues("ok").Inc()
			return &m, nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	ingested.WithLabelValues("storage_failure").Inc()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "storage failure")
	return nil, &StorageError{Op: "ingest", Err: lastErr}
}

func (s *IngestService) wait(ctx context.Context, step int) error {
	backoff := s.RetryBackoff * time.Duration(step)
	if backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// validate checks req and returns the message to be stored. Content and
// username are NFC-normalized so the rune bound counts what users see.
func (s *IngestService) validate(req IngestRequest) (*domain.ChatMessage, error) {
	maxRunes := s.MaxContentRunes
	if maxRunes <= 0 || maxRunes > config.MaxContentRunes {
		maxRunes = config.MaxContentRunes
	}

	if strings.TrimSpace(req.RoomID) == "" {
		return nil, &ValidationError{Field: "rid", Reason: "is required"}
	}
	if utf8.RuneCountInString(req.RoomID) > domain.RoomIDMaxLen {
		return nil, &ValidationError{Field: "rid", Reason: "is too long"}
	}

	content := norm.NFC.String(req.Content)
	if utf8.RuneCountInString(content) > maxRunes {
		return nil, &ValidationError{Field: "message", Reason: "exceeds maximum length"}
	}

	if err := validateTimestamp(req.Timestamp); err != nil {
		return nil, err
	}

	if req.SenderID == nil {
		return nil, &ValidationError{Field: "sender_id", Reason: "is required"}
	}

	username := norm.NFC.String(strings.TrimSpace(req.SenderUsername))
	if username == "" {
		return nil, &ValidationError{Field: "sender_username", Reason: "is required"}
	}
	if utf8.RuneCountInString(username) > domain.UsernameMaxLen {
		return nil, &ValidationError{Field: "sender_username", Reason: "is too long"}
	}

	return &domain.ChatMessage{
		RoomID:         req.RoomID,
		Content:        content,
		Timestamp:      req.Timestamp,
		SenderID:       *req.SenderID,
		SenderUsername: username,
	}, nil
}

func validateTimestamp(ts string) error {
	if ts == "" {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	if len(ts) > domain.TimestampMaxLen {
		return &ValidationError{Field: "timestamp", Reason: "is too long"}
	}
	if _, ok := parseTimestamp(ts); !ok {
		return &ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 date-time"}
	}
	return nil
}

// parseTimestamp reads ts with the first matching accepted layout.
func parseTimestamp(ts string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// persist runs one attempt: ensure room, locate-or-create thread, then insert
// the message and touch the thread in a single transaction.
func (s *IngestService) persist(ctx context.Context, m *domain.ChatMessage) error {
	if err := repo.EnsureRoom(ctx, s.DB, m.RoomID); err != nil {
		return err
	}

	thread, err := s.locateThread(ctx, m.RoomID)
	if err != nil {
		return err
	}
	m.ThreadID = thread.ID

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMessage(ctx, tx, m); err != nil {
			return err
		}
		return repo.TouchThread(ctx, tx, thread.ID, time.Now().UTC())
	})
}

// locateThread returns the room's thread, creating it if needed. Losing the
// creation race to another writer is expected and resolved by re-reading.
func (s *IngestService) locateThread(ctx context.Context, roomID string) (*domain.Thread, error) {
	t, err := repo.FindThread(ctx, s.DB, roomID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	t, err = s.createThread(ctx, roomID)
	if errors.Is(err, errThreadRace) {
		return repo.FindThread(ctx, s.DB, roomID)
	}
	return t, err
}

func (s *IngestService) createThread(ctx context.Context, roomID string) (*domain.Thread, error) {
	t, err := repo.CreateThread(ctx, s.DB, roomID)
	if errors.Is(err, repo.ErrThreadExists) {
		return nil, errThreadRace
	}
	return t, err
}
