package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"notifyhub/internal/model"
)

// GatewayConfig points the push and SMS senders at their provider gateways.
type GatewayConfig struct {
	PushURL  string `yaml:"push_url"`
	SMSURL   string `yaml:"sms_url"`
	APIToken string `yaml:"api_token"`
}

// Gateway delivers push and SMS through JSON-over-HTTP provider endpoints.
type Gateway struct {
	cfg    GatewayConfig
	client *http.Client
}

func NewGateway(cfg GatewayConfig) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type providerResponse struct {
	ID string `json:"id"`
}

func (g *Gateway) post(ctx context.Context, url string, payload any) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal provider payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(data))
	}

	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		// Some providers answer with an empty body; the send still counts.
		return Result{}, nil
	}
	return Result{ProviderID: pr.ID}, nil
}

func (g *Gateway) SendPush(ctx context.Context, sub model.PushSubscription, msg PushMessage) (Result, error) {
	return g.post(ctx, g.cfg.PushURL, map[string]any{
		"endpoint": sub.Endpoint,
		"keys": map[string]string{
			"p256dh": sub.P256DH,
			"auth":   sub.Auth,
		},
		"title": msg.Title,
		"body":  msg.Body,
		"data":  msg.Data,
	})
}

func (g *Gateway) SendSMS(ctx context.Context, msg SMSMessage) (Result, error) {
	return g.post(ctx, g.cfg.SMSURL, map[string]any{
		"to":      msg.To,
		"message": msg.Message,
	})
}
