// internal/remote/client.go
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// maxRetryAfter caps how long a 429 Retry-After header can stall a worker.
const maxRetryAfter = 60 * time.Second

type Config struct {
	Service       string // breaker/log name, e.g. "tracker"
	BaseURL       string
	Email         string
	APIToken      string
	MaxRetries    int
	MaxConcurrent int
	Timeout       time.Duration
}

// Client is the shared HTTP core for both remote services: basic-auth JSON
// requests with bounded concurrency, capped jittered backoff on transient
// failures and a circuit breaker on transport errors.
type Client struct {
	service    string
	baseURL    string
	email      string
	token      string
	maxRetries uint64
	hc         *http.Client
	sem        chan struct{}
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	settings := gobreaker.Settings{
		Name:        cfg.Service,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("⚠️ [%s] circuit breaker %s → %s", name, from, to)
		},
	}

	return &Client{
		service:    cfg.Service,
		baseURL:    cfg.BaseURL,
		email:      cfg.Email,
		token:      cfg.APIToken,
		maxRetries: uint64(cfg.MaxRetries),
		hc:         &http.Client{Timeout: cfg.Timeout},
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Service returns the client's breaker/log name.
func (c *Client) Service() string {
	return c.service
}

// DoJSON performs one authenticated JSON request with retry. Transient
// failures (timeouts, 429, 5xx) are retried with exponential backoff and
// jitter up to the configured cap; a 429 Retry-After is honored first. Auth
// and validation responses are returned immediately as permanent errors.
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request body: %w", c.service, err)
		}
		payload = b
	}

	operation := func() error {
		err := c.once(ctx, method, path, query, payload, out)
		if err == nil {
			return nil
		}
		var re *RemoteError
		if errors.As(err, &re) && re.Category == CategoryTransient {
			log.Printf("🔄 [%s] transient failure on %s %s: %v", c.service, method, path, err)
			if re.RetryAfter > 0 {
				wait := re.RetryAfter
				if wait > maxRetryAfter {
					wait = maxRetryAfter
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // the retry count is the cap, not elapsed time

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

// once sends a single attempt through the semaphore and the breaker. Only
// transport-level failures feed the breaker; HTTP status handling happens
// outside it so a run of validation errors cannot trip a healthy service.
func (c *Client) once(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.email, c.token)

	var httpErr error
	_, brErr := c.breaker.Execute(func() (interface{}, error) {
		resp, doErr := c.hc.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		defer resp.Body.Close()
		httpErr = c.handle(resp, out)
		return nil, nil
	})
	if brErr != nil {
		if IsCircuitOpen(brErr) {
			return fmt.Errorf("%s unreachable: %w", c.service, brErr)
		}
		return &RemoteError{Service: c.service, Category: CategoryTransient, Body: brErr.Error()}
	}
	return httpErr
}

func (c *Client) handle(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{Service: c.service, Category: CategoryTransient, Body: "read response: " + err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", c.service, err)
			}
		}
		return nil
	}

	re := &RemoteError{
		Service:    c.service,
		StatusCode: resp.StatusCode,
		Category:   classify(resp.StatusCode),
		Body:       truncate(string(body), 512),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				re.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return re
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// parseRemoteTime handles the timestamp shapes the two services emit.
func parseRemoteTime(s string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
