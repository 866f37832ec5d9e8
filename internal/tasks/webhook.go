package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/hibiken/asynq"
)

// WebhookHandler delivers execution logs to an external analytics endpoint.
// Any non-2xx answer is returned as an error so asynq retries the task.
type WebhookHandler struct {
	url    string
	client *http.Client
}

func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookHandler{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *WebhookHandler) HandleExecutionLog(ctx context.Context, t *asynq.Task) error {
	var entry model.ExecutionLog
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	log := logger.With("log_id", entry.ID, "item_id", entry.ItemID, "status", entry.Status)
	if h.url == "" {
		log.Info("execution log received")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(t.Payload()))
	if err != nil {
		return fmt.Errorf("build webhook request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Execution-Log-Id", entry.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	log.Debug("execution log delivered")
	return nil
}

// NewServeMux routes analytics tasks to the webhook handler.
func NewServeMux(h *WebhookHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExecutionLog, h.HandleExecutionLog)
	return mux
}
