package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/cartbot/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetSynced(messageID string) (storage.SyncedMessage, error)
	MarkSynced(m storage.SyncedMessage) error
}

// Worker publishes chat_sync jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	publisher Publisher
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, publisher Publisher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		publisher: publisher,
		poll:      pollInterval,
		logger:    slog.Default().With("component", "syncer", "publisher", publisher.Name()),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and publishes a single chat_sync job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("sync job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var msg Message
	if err := json.Unmarshal([]byte(job.PayloadJSON), &msg); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	if _, err := w.store.GetSynced(msg.MessageID); err == nil {
		w.logger.Debug("message already synced", "message_id", msg.MessageID)
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("checking sync state: %w", err)
	}

	if err := w.publisher.Publish(ctx, msg); err != nil {
		return err
	}

	err := w.store.MarkSynced(storage.SyncedMessage{
		MessageID: msg.MessageID,
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		Publisher: w.publisher.Name(),
		SyncedAt:  time.Now(),
	})
	if err != nil {
		w.logger.Warn("recording synced message failed", "message_id", msg.MessageID, "error", err)
	}
	w.logger.Info("chat message synced", "message_id", msg.MessageID, "session_id", msg.SessionID)
	return nil
}
