// Package notify delivers run outcomes to HTTP webhooks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

// DefaultDeadline caps one delivery including every retry.
const DefaultDeadline = 15 * time.Second

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is the JSON body posted to a webhook.
type Event struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier reports run outcomes. Implementations never fail the run.
type Notifier interface {
	Success(ctx context.Context, name, message string)
	Failure(ctx context.Context, name, message string)
}

// Webhook posts events to the configured URLs. An empty URL disables that
// event.
type Webhook struct {
	successURL string
	failureURL string
	client     *retryablehttp.Client
	log        logger.Logger
	now        func() time.Time
	deadline   time.Duration
}

type Option func(*Webhook)

// WithRetryWait bounds the backoff between delivery attempts.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(w *Webhook) {
		w.client.RetryWaitMin = minWait
		w.client.RetryWaitMax = maxWait
	}
}

// WithDeadline bounds the total time spent delivering one event.
func WithDeadline(d time.Duration) Option {
	return func(w *Webhook) {
		if d > 0 {
			w.deadline = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Webhook) { w.now = now }
}

func NewWebhook(successURL, failureURL string, log logger.Logger, opts ...Option) *Webhook {
	if log == nil {
		log = logger.Nop()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = log

	w := &Webhook{
		successURL: successURL,
		failureURL: failureURL,
		client:     client,
		log:        log,
		now:        time.Now,
		deadline:   DefaultDeadline,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Success(ctx context.Context, name, message string) {
	w.send(ctx, w.successURL, Event{Name: name, Status: StatusSuccess, Message: message})
}

func (w *Webhook) Failure(ctx context.Context, name, message string) {
	w.send(ctx, w.failureURL, Event{Name: name, Status: StatusFailure, Message: message})
}

func (w *Webhook) send(ctx context.Context, url string, event Event) {
	if url == "" {
		return
	}
	event.Timestamp = w.now()

	ctx, cancel := context.WithTimeout(ctx, w.deadline)
	defer cancel()
	if err := w.post(ctx, url, event); err != nil {
		w.log.Warn("webhook delivery failed", "status", event.Status, "error", err)
		return
	}
	w.log.Debug("webhook delivered", "status", event.Status)
}

func (w *Webhook) post(ctx context.Context, url string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Success(context.Context, string, string) {}
func (Nop) Failure(context.Context, string, string) {}
