package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roderickjackson-bradley/elmgives-api/log"
)

const requestTimeout = 30 * time.Second

var (
	ErrAggregatorStatus = errors.New("plaid: aggregator returned non-200 status")
	ErrAggregatorBody   = errors.New("plaid: malformed aggregator response")
)

// Config carries the aggregator credentials and environment.
type Config struct {
	Env      string // plaid environment, e.g. "tartan"
	ClientID string
	Secret   string
	// BaseURL overrides the derived endpoint; used by tests.
	BaseURL string
}

// Client talks to the aggregator's legacy /connect/get endpoint. It is
// safe for concurrent use by the intake workers; a shared limiter keeps
// the request rate within the per-client-id allowance.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     log.Logger
}

// NewClient returns a Client with the request timeout and rate limit
// applied.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		log:     log.New("module", "plaid"),
	}
}

func (c *Client) endpoint() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL + "/connect/get"
	}
	return fmt.Sprintf("https://%s.plaid.com/connect/get", c.cfg.Env)
}

type dateRange struct {
	Gte string `json:"gte"`
	Lte string `json:"lte,omitempty"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// Transactions fetches the raw transactions for accessToken between gte
// and lte (both YYYY-MM-DD, lte optional).
func (c *Client) Transactions(ctx context.Context, accessToken, gte, lte string) ([]Transaction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	options, err := json.Marshal(dateRange{Gte: gte, Lte: lte})
	if err != nil {
		return nil, err
	}
	form := url.Values{
		"client_id":    {c.cfg.ClientID},
		"secret":       {c.cfg.Secret},
		"access_token": {accessToken},
		"options":      {string(options)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d", ErrAggregatorStatus, resp.StatusCode)
	}
	var parsed transactionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAggregatorBody, err)
	}
	c.log.Debug("Fetched aggregator transactions", "count", len(parsed.Transactions), "gte", gte, "lte", lte)
	return parsed.Transactions, nil
}
