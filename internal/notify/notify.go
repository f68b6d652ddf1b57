package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"readyline/internal/config"
)

const defaultTimeout = 5 * time.Second

// Notifier posts best-effort JSON notifications to one configured webhook.
// Callers decide what to do with a failed delivery; this service logs and
// moves on, it never retries.
type Notifier struct {
	Hook   config.WebhookConfig
	Client *http.Client
}

func New(hook config.WebhookConfig) *Notifier {
	timeout := defaultTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &Notifier{
		Hook:   hook,
		Client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether this notifier has a target to call.
func (n *Notifier) Configured() bool {
	return n != nil && n.Hook.Configured()
}

// SubmissionNotice tells the workflow engine a new intake row exists.
type SubmissionNotice struct {
	RequestID string  `json:"requestId"`
	Email     string  `json:"email"`
	UserID    *string `json:"userId"`
}

// DeliveryNotice asks the delivery mechanism to send the magic link.
// MagicLink is null when minting failed or no identity was linked.
type DeliveryNotice struct {
	RequestID string  `json:"requestId"`
	UserID    *string `json:"userId"`
	Email     string  `json:"email"`
	MagicLink *string `json:"magicLink"`
}

// Post delivers one notification. A non-2xx response counts as failure.
func (n *Notifier) Post(ctx context.Context, event string, payload any) error {
	if !n.Configured() {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Readyline-Event", event)
	if strings.TrimSpace(n.Hook.Secret) != "" {
		req.Header.Set("X-Readyline-Secret", n.Hook.Secret)
	}
	res, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
