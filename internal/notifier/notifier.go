package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers user-facing raid notices to a Discord-compatible
// webhook. Delivery is best effort: the registration state that triggered a
// notice is already committed, so a failed post is logged and dropped.
type Notifier struct {
	webhookURL string
	client     *http.Client
	log        *zerolog.Logger
}

func New(webhookURL string, timeout time.Duration, log *zerolog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Send posts one message to the configured webhook.
func (n *Notifier) Send(content string) error {
	body, err := json.Marshal(webhookPayload{Content: content})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		n.log.Warn().Err(err).Msg("failed to deliver webhook notice")
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn().Int("status", resp.StatusCode).Msg("webhook rejected notice")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.log.Info().Msg("webhook notice delivered")
	return nil
}
