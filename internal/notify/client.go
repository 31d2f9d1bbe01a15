package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to the transactional mail service over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ Notifier = (*Client)(nil)

// NewClient builds a mail client with sensible timeouts.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	To       string `json:"to"`
	Template string `json:"template"`
	Code     string `json:"code,omitempty"`
}

func (c *Client) SendAccessCode(ctx context.Context, email, code string) error {
	return c.send(ctx, sendRequest{To: email, Template: "access-code", Code: code})
}

func (c *Client) SendApproval(ctx context.Context, email string) error {
	return c.send(ctx, sendRequest{To: email, Template: "affiliate-approved"})
}

func (c *Client) send(ctx context.Context, body sendRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mailer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailer responded %d", resp.StatusCode)
	}
	return nil
}
