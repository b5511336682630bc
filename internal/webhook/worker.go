package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature"
)

type WorkerConfig struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles after each failure.
	Backoff time.Duration
}

// Worker drains a Queue and POSTs each task to the configured endpoint.
type Worker struct {
	queue  Queue
	cfg    WorkerConfig
	client *http.Client
}

// permanentError marks a response that retrying cannot fix.
type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("endpoint rejected webhook with status %d", e.status)
}

func NewWorker(queue Queue, cfg WorkerConfig) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Worker{
		queue:  queue,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Run delivers tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	zap.L().Info("webhook worker started", zap.String("url", w.cfg.URL), zap.Int("max_attempts", w.cfg.MaxAttempts))
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Info("webhook worker stopped")
				return
			}
			zap.L().Warn("webhook dequeue failed", zap.Error(err))
			if !sleepCtx(ctx, w.cfg.Backoff) {
				return
			}
			continue
		}
		w.Deliver(ctx, task)
	}
}

// Deliver attempts task until it succeeds, fails permanently or runs out of
// attempts, in which case it is moved to the dead-letter list.
func (w *Worker) Deliver(ctx context.Context, task Task) bool {
	logger := zap.L().With(
		zap.String("task_id", task.ID),
		zap.String("event", string(task.Payload.Event)),
		zap.String("order_id", task.Payload.OrderID),
	)

	wait := w.cfg.Backoff
	for task.Attempts < w.cfg.MaxAttempts {
		task.Attempts++
		err := w.post(ctx, task.Payload)
		if err == nil {
			logger.Info("webhook delivered", zap.Int("attempt", task.Attempts))
			return true
		}
		task.LastError = err.Error()
		logger.Warn("webhook delivery failed", zap.Int("attempt", task.Attempts), zap.Error(err))

		var permanent *permanentError
		if errors.As(err, &permanent) {
			break
		}
		if task.Attempts >= w.cfg.MaxAttempts {
			break
		}
		if !sleepCtx(ctx, wait) {
			break
		}
		wait *= 2
	}

	// A fresh context so shutdown does not lose the dead-letter write.
	dlCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.DeadLetter(dlCtx, task); err != nil {
		logger.Error("webhook dead-letter failed", zap.Error(err))
	} else {
		logger.Warn("webhook moved to dead-letter", zap.Int("attempts", task.Attempts), zap.String("last_error", task.LastError))
	}
	return false
}

func (w *Worker) post(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(payload.Event))
	if w.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout:
		return &permanentError{status: resp.StatusCode}
	default:
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
