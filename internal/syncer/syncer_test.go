package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kalambet/cartbot/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type mockPublisher struct {
	mu        sync.Mutex
	published []Message
	publishFn func(ctx context.Context, msg Message) error
}

func (m *mockPublisher) Name() string { return "mock" }

func (m *mockPublisher) Publish(ctx context.Context, msg Message) error {
	if m.publishFn != nil {
		if err := m.publishFn(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, msg)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func TestNewMessage(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := NewMessage("u1", "s1", "hi", "hello", "gemini-2.0-flash", at)

	if msg.MessageID == "" {
		t.Error("MessageID is empty")
	}
	if msg.Timestamp != "2025-03-01T10:00:00Z" {
		t.Errorf("Timestamp = %q, want %q", msg.Timestamp, "2025-03-01T10:00:00Z")
	}
	if msg.Metadata.Source != "ai-service" || msg.Metadata.Version != "1.0.0" {
		t.Errorf("Metadata = %+v", msg.Metadata)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"messageId", "userId", "sessionId", "userMessage", "aiResponse", "timestamp", "metadata"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("payload missing key %q", key)
		}
	}
	meta := raw["metadata"].(map[string]any)
	if meta["aiModel"] != "gemini-2.0-flash" {
		t.Errorf("metadata.aiModel = %v, want gemini-2.0-flash", meta["aiModel"])
	}
}

func TestOutbox_Enqueue(t *testing.T) {
	store := openTestStore(t)
	outbox := NewOutbox(store, "m")

	if err := outbox.Enqueue("u1", "s1", "q", "a"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := store.ClaimNextJob([]string{JobType})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", job.MaxAttempts)
	}
	var msg Message
	if err := json.Unmarshal([]byte(job.PayloadJSON), &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.MessageID != job.ID {
		t.Errorf("job ID = %q, want message id %q", job.ID, msg.MessageID)
	}
	if msg.UserMessage != "q" || msg.AIResponse != "a" {
		t.Errorf("payload = %+v", msg)
	}
}

func TestWorker_PublishesAndMarksSynced(t *testing.T) {
	store := openTestStore(t)
	pub := &mockPublisher{}
	if err := NewOutbox(store, "m").Enqueue("u1", "s1", "q", "a"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, pub, 10*time.Millisecond)
	processed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}

	n, err := store.SyncedCount("s1")
	if err != nil {
		t.Fatalf("SyncedCount: %v", err)
	}
	if n != 1 {
		t.Errorf("SyncedCount = %d, want 1", n)
	}
	stats, _ := store.JobStats()
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}

	processed, err = w.RunOnce(context.Background())
	if err != nil || processed {
		t.Errorf("second RunOnce = (%v, %v), want (false, nil)", processed, err)
	}
}

func TestWorker_SkipsAlreadySynced(t *testing.T) {
	store := openTestStore(t)
	pub := &mockPublisher{}

	msg := NewMessage("u1", "s1", "q", "a", "m", time.Now())
	payload, _ := json.Marshal(msg)
	if err := store.EnqueueJob(storage.Job{ID: msg.MessageID, Type: JobType, PayloadJSON: string(payload)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := store.MarkSynced(storage.SyncedMessage{MessageID: msg.MessageID, SessionID: "s1", UserID: "u1", Publisher: "mock"}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	w := NewWorker(store, pub, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("published = %d, want 0", pub.count())
	}
	stats, _ := store.JobStats()
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
}

func TestWorker_PublishFailureRequeues(t *testing.T) {
	store := openTestStore(t)
	pub := &mockPublisher{publishFn: func(ctx context.Context, msg Message) error {
		return errors.New("backend down")
	}}
	if err := NewOutbox(store, "m").Enqueue("u1", "s1", "q", "a"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, pub, 0)
	processed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}

	stats, _ := store.JobStats()
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}
	n, _ := store.SyncedCount("s1")
	if n != 0 {
		t.Errorf("SyncedCount = %d, want 0", n)
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	pub := &mockPublisher{}
	if err := store.EnqueueJob(storage.Job{ID: "bad", Type: JobType, PayloadJSON: "{", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(store, pub, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	stats, _ := store.JobStats()
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if pub.count() != 0 {
		t.Errorf("published = %d, want 0", pub.count())
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	pub := &mockPublisher{}
	for i := 0; i < 3; i++ {
		if err := NewOutbox(store, "m").Enqueue("u1", "s1", "q", "a"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(store, pub, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for pub.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("published = %d, want 3", pub.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWebhookPublisher(t *testing.T) {
	var calls atomic.Int32
	var gotSecret, gotUA, gotPath string
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotPath = r.URL.Path
		gotSecret = r.Header.Get("X-Webhook-Secret")
		gotUA = r.Header.Get("User-Agent")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL+"/", "s3cret")
	msg := NewMessage("u1", "s1", "q", "a", "m", time.Now())
	if err := p.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if gotPath != "/api/chathistory/sync" {
		t.Errorf("path = %q, want %q", gotPath, "/api/chathistory/sync")
	}
	if gotSecret != "s3cret" {
		t.Errorf("X-Webhook-Secret = %q, want %q", gotSecret, "s3cret")
	}
	if gotUA != "StreamCart-AI-Service/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if got.MessageID != msg.MessageID {
		t.Errorf("messageId = %q, want %q", got.MessageID, msg.MessageID)
	}
}

func TestWebhookPublisher_NoSecretHeader(t *testing.T) {
	var present atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["X-Webhook-Secret"]
		present.Store(ok)
	}))
	defer srv.Close()

	if err := NewWebhookPublisher(srv.URL, "").Publish(context.Background(), Message{MessageID: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if present.Load() {
		t.Error("X-Webhook-Secret sent with empty secret")
	}
}

func TestWebhookPublisher_Non200(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusBadRequest, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		err := NewWebhookPublisher(srv.URL, "").Publish(context.Background(), Message{MessageID: "x"})
		srv.Close()
		if err == nil {
			t.Errorf("status %d: expected error", code)
		}
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{writer: fw, topic: "chat-history"}

	msg := NewMessage("u1", "s1", "q", "a", "m", time.Now())
	if err := p.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("written = %d, want 1", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "s1" {
		t.Errorf("Key = %q, want %q", fw.msgs[0].Key, "s1")
	}
	var got Message
	if err := json.Unmarshal(fw.msgs[0].Value, &got); err != nil {
		t.Fatalf("Value: %v", err)
	}
	if got.MessageID != msg.MessageID {
		t.Errorf("messageId = %q, want %q", got.MessageID, msg.MessageID)
	}

	if err := p.Close(); err != nil || !fw.closed {
		t.Errorf("Close = %v, closed = %v", err, fw.closed)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("no leader")}, topic: "t"}
	if err := p.Publish(context.Background(), Message{MessageID: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if p.Name() != "kafka" {
		t.Errorf("Name = %q, want kafka", p.Name())
	}
}
