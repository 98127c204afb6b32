package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/cartbot/internal/composer"
	"github.com/kalambet/cartbot/internal/intent"
	"github.com/kalambet/cartbot/internal/knowledge"
	"github.com/kalambet/cartbot/internal/session"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// ErrorMessage is the user-facing text for a failed completion.
	ErrorMessage = "Xin lỗi, có lỗi xảy ra khi xử lý yêu cầu của bạn."
)

// ContextAssembler builds the catalog context for classified intents.
type ContextAssembler interface {
	AssembleIntents(ctx context.Context, message string, intents intent.Set) composer.Context
}

// Completer generates the reply text for a prompt.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SessionStore is the part of the session store the pipeline writes to.
type SessionStore interface {
	ResolveIdentity(userID, authHeader string) session.Identity
	Ensure(sessionID, userID string)
	AppendExisting(sessionID, userMessage, response string) bool
}

// SyncEnqueuer hands a completed turn to chat-history sync.
type SyncEnqueuer interface {
	Enqueue(userID, sessionID, userMessage, aiResponse string) error
}

// Request is one inbound chat message.
type Request struct {
	Message       string
	UserID        string
	Authorization string
}

// Metadata captures diagnostic information about a turn.
type Metadata struct {
	Intents      intent.Set
	ShopResolved string
	Duration     time.Duration
}

// Response is the outcome of a turn. Err is set only when Status is
// StatusError.
type Response struct {
	Response  string
	Status    string
	UserID    string
	SessionID string
	Err       error
	Metadata  Metadata
}

// Service orchestrates one chat turn: identity, intent, context, prompt,
// completion and bookkeeping.
type Service struct {
	assembler  ContextAssembler
	completer  Completer
	sessions   SessionStore
	sync       SyncEnqueuer
	classifier *intent.Classifier
	logger     *slog.Logger
}

// NewService wires the pipeline. sync may be nil when chat-history sync is
// disabled.
func NewService(assembler ContextAssembler, completer Completer, sessions SessionStore, sync SyncEnqueuer) *Service {
	return &Service{
		assembler:  assembler,
		completer:  completer,
		sessions:   sessions,
		sync:       sync,
		classifier: intent.NewClassifier(nil),
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Chat runs the pipeline for req. It never returns a Go error; failures
// are reported through Response.Status and Response.Err.
func (s *Service) Chat(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	defer func() {
		resp.Metadata.Duration = time.Since(start)
		s.logger.Debug("chat turn complete",
			"user_id", resp.UserID,
			"session_id", resp.SessionID,
			"status", resp.Status,
			"intents", resp.Metadata.Intents,
			"shop", resp.Metadata.ShopResolved,
			"duration_ms", resp.Metadata.Duration.Milliseconds(),
		)
	}()

	id := s.sessions.ResolveIdentity(req.UserID, req.Authorization)
	resp.UserID = id.UserID
	resp.SessionID = id.SessionID
	s.sessions.Ensure(id.SessionID, id.UserID)

	message := strings.TrimSpace(req.Message)
	intents := s.classifier.Classify(message)
	resp.Metadata.Intents = intents

	switch {
	case intents.Has(intent.OutOfScope):
		resp, _ = s.reply(resp, id, message, intent.RefusalMessage)
		return resp
	case greetingOnly(message, intents):
		resp, _ = s.reply(resp, id, message, intent.GreetingMessage)
		return resp
	}

	c := s.assembler.AssembleIntents(ctx, message, intents)
	if c.Shop != nil {
		resp.Metadata.ShopResolved = c.Shop.Name
	}

	text, err := s.completer.Generate(ctx, composer.BuildPrompt(c, message))
	if err != nil {
		s.logger.Error("completion failed", "user_id", id.UserID, "error", err)
		resp.Status = StatusError
		resp.Response = ErrorMessage
		resp.Err = err
		return resp
	}

	var stored bool
	resp, stored = s.reply(resp, id, message, strings.TrimSpace(text))
	if s.sync != nil && stored {
		if err := s.sync.Enqueue(id.UserID, id.SessionID, message, resp.Response); err != nil {
			s.logger.Warn("enqueueing chat sync failed", "session_id", id.SessionID, "error", err)
		}
	}
	return resp
}

// reply records the turn unless the session was deleted while it ran.
func (s *Service) reply(resp Response, id session.Identity, message, text string) (Response, bool) {
	stored := s.sessions.AppendExisting(id.SessionID, message, text)
	if !stored {
		s.logger.Info("session deleted during turn, reply not stored", "session_id", id.SessionID)
	}
	resp.Status = StatusSuccess
	resp.Response = text
	return resp, stored
}

func greetingOnly(message string, intents intent.Set) bool {
	if !intents.Has(intent.Greeting) {
		return false
	}
	if intents.Has(intent.Product) || intents.Has(intent.Shop) || intents.Has(intent.FlashSale) {
		return false
	}
	return len(knowledge.Match(message)) == 0
}
