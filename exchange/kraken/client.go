package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
)

const (
	defaultBaseURL = "https://api.kraken.com"
	apiVersion     = "0"
	maxAttempts    = 4
)

// Client is a minimal Kraken REST client covering the endpoints the daemon
// uses. Private calls are signed with the account's API secret.
type Client struct {
	key     string
	secret  []byte
	baseURL string
	http    *http.Client
	nonce   atomic.Int64
}

// NewClient builds a client for the given credentials. The secret is the
// base64 string shown by Kraken when the key is created.
func NewClient(key, secret string) (*Client, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid api secret: %w", err)
	}

	c := &Client{
		key:     key,
		secret:  decoded,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	c.nonce.Store(time.Now().UnixNano())

	return c, nil
}

// apiError is the error array of the Kraken response envelope.
type apiError []string

func (e apiError) Error() string { return strings.Join(e, ", ") }

// retryable reports whether the failure is worth another attempt. Kraken
// prefixes transient conditions with EAPI (rate limit) or EService.
func (e apiError) retryable() bool {
	for _, msg := range e {
		if strings.HasPrefix(msg, "EAPI:Rate limit") || strings.HasPrefix(msg, "EService:") {
			return true
		}
	}
	return false
}

// Public performs an unauthenticated GET request.
func (c *Client) Public(ctx context.Context, method string, params url.Values, result any) error {
	path := fmt.Sprintf("/%s/public/%s", apiVersion, method)

	return c.withRetry(ctx, func() error {
		endpoint := c.baseURL + path
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		return c.do(req, result)
	})
}

// Private performs a signed POST request.
func (c *Client) Private(ctx context.Context, method string, params url.Values, result any) error {
	path := fmt.Sprintf("/%s/private/%s", apiVersion, method)

	return c.withRetry(ctx, func() error {
		if params == nil {
			params = url.Values{}
		}
		nonce := strconv.FormatInt(c.nextNonce(), 10)
		params.Set("nonce", nonce)
		body := params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", c.key)
		req.Header.Set("API-Sign", c.sign(path, nonce, body))

		return c.do(req, result)
	})
}

// sign computes HMAC-SHA512(path + SHA256(nonce + postdata)) keyed with the
// decoded secret, as required by the Kraken private API.
func (c *Client) sign(path, nonce, body string) string {
	digest := sha256.Sum256([]byte(nonce + body))

	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// nextNonce returns a strictly increasing nonce even when calls race.
func (c *Client) nextNonce() int64 {
	for {
		last := c.nonce.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if c.nonce.CompareAndSwap(last, next) {
			return next
		}
	}
}

// transientError wraps failures that deserve another attempt.
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// do executes the request and decodes the Kraken response envelope.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transientError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return transientError{fmt.Errorf("kraken returned status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transientError{err}
	}

	var envelope struct {
		Error  apiError        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(envelope.Error) > 0 {
		if envelope.Error.retryable() {
			return transientError{envelope.Error}
		}
		return envelope.Error
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}

	return nil
}

// withRetry runs fn with exponential backoff on transient failures.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		var transient transientError
		if !errors.As(err, &transient) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}

	return err
}
