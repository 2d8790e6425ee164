// Package routing implements the delivery engine: inbound fan-out to core
// destinations and webhook targets, outbound channel selection and dispatch,
// and the audit trail both directions share.
package routing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"omnirelay/internal/types"
)

// fanOutConcurrencyLimit caps simultaneous webhook deliveries per message.
const fanOutConcurrencyLimit = 8

// WebhookConfig carries the dispatcher's tunables.
type WebhookConfig struct {
	UserAgent      string
	DefaultTimeout time.Duration
	// BackoffBase is the unit for exponential retry waits: attempt n waits
	// BackoffBase * 2^n before the next try.
	BackoffBase time.Duration
}

// TargetResult is the outcome of one webhook target's attempt cycle.
type TargetResult struct {
	TargetID string `json:"target_id"`
	Name     string `json:"name"`
	Success  bool   `json:"success"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// WebhookDispatcher delivers canonical messages to operator-configured
// webhook targets. Deliveries are best-effort: failures are counted and
// reported, never escalated.
type WebhookDispatcher struct {
	store  types.WebhookTargetStore
	client *http.Client
	config WebhookConfig
	clock  types.Clock
	logger types.Logger
	sleep  func(time.Duration)
}

// NewWebhookDispatcher creates a dispatcher. client should be SSRF-guarded.
func NewWebhookDispatcher(store types.WebhookTargetStore, client *http.Client, config WebhookConfig, logger types.Logger) *WebhookDispatcher {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 10 * time.Second
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	return &WebhookDispatcher{
		store:  store,
		client: client,
		config: config,
		clock:  types.RealClock{},
		logger: logger,
		sleep:  time.Sleep,
	}
}

// SetClock overrides the clock. Testing hook.
func (d *WebhookDispatcher) SetClock(c types.Clock) { d.clock = c }

// SetSleep overrides the retry wait. Testing hook.
func (d *WebhookDispatcher) SetSleep(fn func(time.Duration)) { d.sleep = fn }

// FanOut delivers msg to every active target whose filters match the message's
// channel and direction. Targets run concurrently; one slow or failing target
// never blocks the others. The returned slice has one entry per matching
// target.
func (d *WebhookDispatcher) FanOut(ctx context.Context, msg *types.CanonicalMessage, dir types.Direction) []TargetResult {
	targets, err := d.store.ListActive(ctx)
	if err != nil {
		d.logger.Error("webhook target listing failed, fan-out skipped",
			"message_id", msg.MessageID,
			"error", err.Error(),
		)
		return nil
	}

	body, err := msg.Serialize()
	if err != nil {
		d.logger.Error("canonical message serialization failed, fan-out skipped",
			"message_id", msg.MessageID,
			"error", err.Error(),
		)
		return nil
	}

	var mu sync.Mutex
	var results []TargetResult

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutConcurrencyLimit)

	for _, target := range targets {
		if !target.Matches(msg.Channel, dir) {
			continue
		}
		target := target

		g.Go(func() error {
			res := d.Deliver(gCtx, target, body)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			// Failures stay in the result set; other targets proceed.
			return nil
		})
	}
	g.Wait()

	return results
}

// Deliver runs one target's full attempt cycle against a pre-serialized
// canonical message and records the terminal outcome on the target's
// counters. Exported for the operator-facing target test endpoint.
func (d *WebhookDispatcher) Deliver(ctx context.Context, target *types.WebhookTarget, body []byte) TargetResult {
	res := TargetResult{TargetID: target.ID, Name: target.Name}

	maxAttempts := 1
	if target.RetryEnabled && target.MaxAttempts > 1 {
		maxAttempts = target.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res.Attempts++

		lastErr = d.attempt(ctx, target, body)
		if lastErr == nil {
			res.Success = true
			break
		}

		d.logger.Warn("webhook attempt failed",
			"target_id", target.ID,
			"attempt", res.Attempts,
			"max_attempts", maxAttempts,
			"error", lastErr.Error(),
		)

		if attempt < maxAttempts-1 {
			d.sleep(d.config.BackoffBase * (1 << attempt))
		}
	}

	if lastErr != nil {
		res.Error = lastErr.Error()
	}

	if err := d.store.RecordRun(ctx, target.ID, res.Success, d.clock.Now()); err != nil {
		d.logger.Error("webhook counter update failed",
			"target_id", target.ID,
			"error", err.Error(),
		)
	}

	return res
}

// attempt performs a single HTTP delivery with the target's own timeout.
func (d *WebhookDispatcher) attempt(ctx context.Context, target *types.WebhookTarget, body []byte) error {
	timeout := d.config.DefaultTimeout
	if target.TimeoutSeconds > 0 {
		timeout = time.Duration(target.TimeoutSeconds) * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := target.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("target returned %d", resp.StatusCode)
	}
	return nil
}
