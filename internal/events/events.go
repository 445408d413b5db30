// Package events publishes domain events to the message queue.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/internal/mq"
	"github.com/siteinspect/apiserver/types"
)

// Channels.
const (
	ReportCreated       = "report.created"
	ReportStatusChanged = "report.status_changed"
	PasswordResetMail   = "mail.password_reset"
)

// Channels lists every channel this package publishes to.
var Channels = []string{ReportCreated, ReportStatusChanged, PasswordResetMail}

// Publisher hands events to consumers. Implementations never fail the caller.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any)
}

// ReportCreatedEvent is published after a report has been persisted.
type ReportCreatedEvent struct {
	ReportID    string    `json:"reportId"`
	JobID       string    `json:"jobId"`
	InspectorID string    `json:"inspectorId"`
	ImageCount  int       `json:"imageCount"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// ReportStatusChangedEvent is published when root or admin moves a report to
// a new status.
type ReportStatusChangedEvent struct {
	ReportID   string             `json:"reportId"`
	From       types.ReportStatus `json:"from"`
	To         types.ReportStatus `json:"to"`
	ChangedBy  string             `json:"changedBy"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// PasswordResetMailEvent asks the mail consumer to deliver a reset token.
type PasswordResetMailEvent struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	OccurredAt time.Time `json:"occurredAt"`
}

type queue interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// MQPublisher JSON-encodes events and publishes them on the queue.
type MQPublisher struct {
	queue queue
	log   zerolog.Logger
}

func NewMQPublisher(queue *mq.MQ, log zerolog.Logger) *MQPublisher {
	return &MQPublisher{queue: queue, log: log.With().Str("component", "events").Logger()}
}

// Publish sends payload to channel. Failures are logged.
func (p *MQPublisher) Publish(ctx context.Context, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("channel", channel).Msg("encode event")
		return
	}
	id, err := p.queue.Publish(ctx, channel, data, map[string]string{
		mq.ContentTypeAttribute: "application/json",
	})
	if err != nil {
		p.log.Error().Err(err).Str("channel", channel).Msg("publish event")
		return
	}
	p.log.Debug().Str("channel", channel).Str("message_id", id).Msg("event published")
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}

// New returns a publisher backed by queue, or Nop when queue is nil.
func New(queue *mq.MQ, log zerolog.Logger) Publisher {
	if queue == nil {
		return Nop{}
	}
	return NewMQPublisher(queue, log)
}
