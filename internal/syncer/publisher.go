package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	webhookPath      = "/api/chathistory/sync"
	webhookUserAgent = "StreamCart-AI-Service/1.0"
	webhookTimeout   = 10 * time.Second
)

// Publisher delivers one message to a downstream sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// WebhookPublisher posts messages to the backend chat-history endpoint.
type WebhookPublisher struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewWebhookPublisher targets {baseURL}/api/chathistory/sync. An empty
// secret omits the X-Webhook-Secret header.
func NewWebhookPublisher(baseURL, secret string) *WebhookPublisher {
	return &WebhookPublisher{
		url:        strings.TrimRight(baseURL, "/") + webhookPath,
		secret:     secret,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

func (p *WebhookPublisher) Name() string { return "webhook" }

// Publish treats any status other than 200 as a failure.
func (p *WebhookPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if p.secret != "" {
		req.Header.Set("X-Webhook-Secret", p.secret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting message %s: %w", msg.MessageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// messageWriter is the subset of *kafka.Writer used for publishing.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes messages to a topic keyed by session id, so turns
// of one session stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a synchronous producer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: webhookTimeout,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.SessionID),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("writing to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
