// Package mail delivers transactional email through an external email API.
// Delivery is fire-and-forget: failures are logged, never surfaced to the
// caller, and never sit on the points-awarding critical path.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Client sends email via an HTTP email delivery service.
type Client struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

// NewClient creates an email client. An empty baseURL disables delivery,
// which keeps local development and tests quiet.
func NewClient(baseURL, apiKey, from string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendOTP emails a one-time login code.
func (c *Client) SendOTP(email, code string) {
	c.send(email, "Your login code",
		fmt.Sprintf("Your one-time login code is %s. It expires in 10 minutes.", code))
}

// SendWelcome emails a welcome message to a new shopper.
func (c *Client) SendWelcome(email, name string) {
	c.send(email, "Welcome to the rewards program",
		fmt.Sprintf("Hi %s, your loyalty account is ready. Scan your first receipt to start earning points.", name))
}

// send posts the message in a background goroutine.
func (c *Client) send(to, subject, text string) {
	if c.baseURL == "" {
		log.Debug().Str("to", to).Str("subject", subject).Msg("Email delivery disabled, dropping message")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		body, err := json.Marshal(sendRequest{From: c.from, To: to, Subject: subject, Text: text})
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode email")
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
		if err != nil {
			log.Error().Err(err).Msg("Failed to build email request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			log.Error().Err(err).Str("to", to).Msg("Failed to deliver email")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			log.Error().Int("status", resp.StatusCode).Str("to", to).Msg("Email API returned error")
			return
		}
		log.Debug().Str("to", to).Str("subject", subject).Msg("Email delivered")
	}()
}
