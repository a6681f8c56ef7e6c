package telemetry

import (
	"context"
	"log"
	"strconv"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter publishes audit envelopes for discussion actions.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level        string `json:"level"`
	Text         string `json:"text"`
	Action       string `json:"action,omitempty"`
	DiscussionID int    `json:"discussion_id,omitempty"`
}

// AuditRecord is what a caller knows about an audited action.
type AuditRecord struct {
	Level        string
	Text         string
	Action       string
	RequestID    string
	UserID       int
	DiscussionID int
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes the record. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	level := rec.Level
	if level == "" {
		level = "INFO"
	}
	var userID *string
	if rec.UserID != 0 {
		id := strconv.Itoa(rec.UserID)
		userID = &id
	}

	log.Printf("audit emit: level=%s action=%s request_id=%s user_id=%d text=%q", level, rec.Action, rec.RequestID, rec.UserID, rec.Text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:        level,
			Text:         rec.Text,
			Action:       rec.Action,
			DiscussionID: rec.DiscussionID,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
