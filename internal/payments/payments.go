package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusApproved is the only processor status that results in issuance.
const StatusApproved = "approved"

var (
	// ErrNotFound reports an unknown payment id.
	ErrNotFound = errors.New("payment not found")
)

// Payment is the subset of processor detail the issuer needs.
type Payment struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PayerEmail string `json:"payer_email"`
}

// Approved reports whether the payment finished successfully.
func (p Payment) Approved() bool { return p.Status == StatusApproved }

// Provider fetches full payment detail by id. The webhook body only carries
// the id; the authoritative status and payer email come from this lookup.
type Provider interface {
	Fetch(ctx context.Context, id string) (Payment, error)
}

// Client implements Provider against the processor's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ Provider = (*Client)(nil)

// NewClient builds a processor client with request timeouts suitable for a
// single-shot lookup inside a webhook handler.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Fetch(ctx context.Context, id string) (Payment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Payment{}, errors.New("payment id is required")
	}
	endpoint := c.baseURL + "/v1/payments/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Payment{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Payment{}, fmt.Errorf("payment lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Payment{}, ErrNotFound
	default:
		return Payment{}, fmt.Errorf("payment processor responded %d", resp.StatusCode)
	}

	var p Payment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Payment{}, fmt.Errorf("decode payment: %w", err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}
