package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const fcmEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMSender delivers push notifications through the FCM legacy HTTP API.
type FCMSender struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewFCMSender(apiKey string) *FCMSender {
	return &FCMSender{
		apiKey:   apiKey,
		endpoint: fcmEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one multicast message to every registered device. Per-token
// rejections are logged; only transport and API-level failures are errors.
func (f *FCMSender) Send(ctx context.Context, tokens []string, n Notification) error {
	if len(tokens) == 0 {
		return nil
	}

	payload := map[string]any{
		"registration_ids": tokens,
		"notification": map[string]any{
			"title": n.Subject,
			"body":  n.Body,
		},
		"data": n.Data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post push message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}

	var result struct {
		Success int `json:"success"`
		Failure int `json:"failure"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.Failure > 0 {
		log.Warn().Int("delivered", result.Success).Int("rejected", result.Failure).
			Msg("Some device registrations rejected the push message")
	}
	return nil
}
