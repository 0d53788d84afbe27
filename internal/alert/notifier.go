// Package alert handles sending notifications to operators.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending alert messages.
type Notifier interface {
	Send(message string) error
	Close() error
}

// NoOpNotifier is a notifier that does nothing. It is used when alerting is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing and returns nil.
func (n *NoOpNotifier) Send(message string) error {
	return nil
}

// Close does nothing and returns nil.
func (n *NoOpNotifier) Close() error {
	return nil
}

const webhookQueueSize = 64

// WebhookNotifier posts messages as {"content": "..."} to a chat webhook
// (Discord and Slack-compatible endpoints accept this body).
// Messages are queued and delivered by a background goroutine so Send never blocks on the network.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
	queue  chan string
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewWebhookNotifier creates a WebhookNotifier and starts its sender.
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		queue:  make(chan string, webhookQueueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Send queues message for delivery. It returns an error if the queue is full or the notifier is closed.
func (n *WebhookNotifier) Send(message string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return fmt.Errorf("webhook notifier is closed")
	}
	select {
	case n.queue <- message:
		return nil
	default:
		return fmt.Errorf("webhook queue full, dropping alert")
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (n *WebhookNotifier) Close() error {
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
		n.wg.Wait()
	})
	return nil
}

func (n *WebhookNotifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		if err := n.post(context.Background(), msg); err != nil {
			n.logger.Warn("Failed to deliver alert", zap.Error(err))
		}
	}
}

func (n *WebhookNotifier) post(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
