// Package sms delivers OTP codes over the SMS Local HTTP API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"authguard/internal/mfa"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://www.smslocal.com/dev/bulkV2"
	maxErrorBody   = 512
)

// ErrNoPhone is returned when the identity has no phone number on file.
var ErrNoPhone = errors.New("sms: identity has no phone number")

// Client sends OTP messages through SMS Local (route=otp).
type Client struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewClient returns a client for apiKey. Empty baseURL selects the public endpoint.
func NewClient(apiKey, baseURL, sender string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts code to phone. phone is digits only, country code first. The code is never
// included in returned errors.
func (c *Client) Send(ctx context.Context, phone, code string) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}
	body := map[string]any{
		"route":     "otp",
		"numbers":   digitsOnly(phone),
		"variables": code,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, strings.ReplaceAll(string(b), code, "******"))
	}
	return nil
}

// Notifier adapts Client to mfa.Notifier for the sms channel.
type Notifier struct {
	Client *Client
}

// SendOTP delivers d.Code to the identity's phone.
func (n Notifier) SendOTP(ctx context.Context, d mfa.Delivery) error {
	if d.Identity == nil || strings.TrimSpace(d.Identity.Phone) == "" {
		return ErrNoPhone
	}
	return n.Client.Send(ctx, d.Identity.Phone, d.Code)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
