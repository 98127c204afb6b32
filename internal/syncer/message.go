// Package syncer forwards completed chat turns to the StreamCart backend
// through a durable SQLite outbox.
package syncer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cartbot/internal/storage"
)

// JobType is the job queue type for chat-history sync.
const JobType = "chat_sync"

const (
	maxAttempts = 3
	source      = "ai-service"
	version     = "1.0.0"
)

// Metadata describes how a reply was produced.
type Metadata struct {
	AIModel string `json:"aiModel"`
	Source  string `json:"source"`
	Version string `json:"version"`
}

// Message is the chat-history payload expected by the backend.
type Message struct {
	MessageID   string   `json:"messageId"`
	UserID      string   `json:"userId"`
	SessionID   string   `json:"sessionId"`
	UserMessage string   `json:"userMessage"`
	AIResponse  string   `json:"aiResponse"`
	Timestamp   string   `json:"timestamp"`
	Metadata    Metadata `json:"metadata"`
}

// NewMessage builds a payload with a fresh message id.
func NewMessage(userID, sessionID, userMessage, aiResponse, model string, at time.Time) Message {
	return Message{
		MessageID:   uuid.NewString(),
		UserID:      userID,
		SessionID:   sessionID,
		UserMessage: userMessage,
		AIResponse:  aiResponse,
		Timestamp:   at.UTC().Format(time.RFC3339Nano),
		Metadata:    Metadata{AIModel: model, Source: source, Version: version},
	}
}

// JobEnqueuer is the write side of the job queue.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Outbox persists chat turns for the worker to publish.
type Outbox struct {
	store JobEnqueuer
	model string
	now   func() time.Time
}

// NewOutbox creates an Outbox tagging messages with the completion model name.
func NewOutbox(store JobEnqueuer, model string) *Outbox {
	return &Outbox{store: store, model: model, now: time.Now}
}

// Enqueue stores one turn as a chat_sync job keyed by its message id.
func (o *Outbox) Enqueue(userID, sessionID, userMessage, aiResponse string) error {
	msg := NewMessage(userID, sessionID, userMessage, aiResponse, o.model, o.now())
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling sync message: %w", err)
	}
	return o.store.EnqueueJob(storage.Job{
		ID:          msg.MessageID,
		Type:        JobType,
		PayloadJSON: string(payload),
		MaxAttempts: maxAttempts,
	})
}
