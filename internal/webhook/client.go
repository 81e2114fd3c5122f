// Package webhook implements the delivery layer: a rate-limit-aware
// retrying HTTP client for posting to the destination webhook and fetching
// remote attachment content.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
)

// Config holds the client configuration. Zero fields get defaults.
type Config struct {
	WebhookURL string

	HTTPClient *http.Client
	Limiter    *RateLimiter

	// Retry bounds per failure class.
	MaxRateLimitRetries int
	MaxErrorRetries     int

	BackoffBase time.Duration
	BackoffCap  time.Duration

	Log *logger.Logger
}

// Client posts payloads to one webhook endpoint and fetches remote
// resources, retrying per failure class: rate limits sleep the
// server-specified delay, server errors and transport failures back off
// exponentially, anything else is returned to the caller as-is.
type Client struct {
	url     string
	http    *http.Client
	limiter *RateLimiter

	maxRateLimitRetries int
	maxErrorRetries     int
	backoffBase         time.Duration
	backoffCap          time.Duration

	log *logger.Logger
}

// NewClient creates a delivery client for the given webhook URL. The URL is
// forced to carry wait=true so the endpoint responds synchronously with the
// created message id.
func NewClient(cfg Config) (*Client, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	withWait, err := ensureQueryParam(cfg.WebhookURL, "wait", "true")
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}

	c := &Client{
		url:                 withWait,
		http:                cfg.HTTPClient,
		limiter:             cfg.Limiter,
		maxRateLimitRetries: cfg.MaxRateLimitRetries,
		maxErrorRetries:     cfg.MaxErrorRetries,
		backoffBase:         cfg.BackoffBase,
		backoffCap:          cfg.BackoffCap,
		log:                 cfg.Log,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 90 * time.Second}
	}
	if c.limiter == nil {
		c.limiter = DefaultRateLimiter()
	}
	if c.maxRateLimitRetries <= 0 {
		c.maxRateLimitRetries = 8
	}
	if c.maxErrorRetries <= 0 {
		c.maxErrorRetries = 5
	}
	if c.backoffBase <= 0 {
		c.backoffBase = 800 * time.Millisecond
	}
	if c.backoffCap <= 0 {
		c.backoffCap = 10 * time.Second
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	return c, nil
}

// Post delivers one payload, optionally with file parts. On rate limiting it
// sleeps the server delay and retries; on 5xx or transport failure it backs
// off and retries. Exhausted retries return the last response (or, for
// transport failures, the error).
func (c *Client) Post(ctx context.Context, payload Payload, files []File) (*PostResult, error) {
	rateLimitTries := 0
	errorTries := 0
	bo := c.newBackoff()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.doPost(ctx, payload, files)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errorTries >= c.maxErrorRetries {
				return nil, fmt.Errorf("post webhook: %w", err)
			}
			errorTries++
			c.log.Warn().Err(err).Int("attempt", errorTries).Msg("webhook post failed, retrying")
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfter(resp)
			c.limiter.SetPenalty(delay)
			if rateLimitTries >= c.maxRateLimitRetries {
				return result(resp), nil
			}
			drain(resp)
			rateLimitTries++
			c.log.Warn().Dur("retry_after", delay).Int("attempt", rateLimitTries).Msg("webhook rate limited")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		case resp.StatusCode >= 500:
			if errorTries >= c.maxErrorRetries {
				return result(resp), nil
			}
			drain(resp)
			errorTries++
			c.log.Warn().Int("status", resp.StatusCode).Int("attempt", errorTries).Msg("webhook server error, retrying")
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
		default:
			return result(resp), nil
		}
	}
}

// ProbeSize issues a HEAD request and reports the Content-Length. Callers
// treat any failure conservatively.
func (c *Client) ProbeSize(ctx context.Context, rawURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("probe %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("probe %s: no content length", rawURL)
	}
	return resp.ContentLength, nil
}

// Fetch downloads a remote resource with the same retry discipline as Post.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	rateLimitTries := 0
	errorTries := 0
	bo := c.newBackoff()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errorTries >= c.maxErrorRetries {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
			errorTries++
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfter(resp)
			drain(resp)
			if rateLimitTries >= c.maxRateLimitRetries {
				return nil, fmt.Errorf("fetch %s: rate limited", rawURL)
			}
			rateLimitTries++
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		case resp.StatusCode >= 500:
			drain(resp)
			if errorTries >= c.maxErrorRetries {
				return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
			}
			errorTries++
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
			return data, nil
		default:
			drain(resp)
			return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
		}
	}
}

func (c *Client) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.MaxInterval = c.backoffCap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	return bo
}

func (c *Client) doPost(ctx context.Context, payload Payload, files []File) (*http.Response, error) {
	if len(files) == 0 {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := mw.WriteField("payload_json", string(payloadJSON)); err != nil {
		return nil, fmt.Errorf("write payload_json: %w", err)
	}

	for i, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[%d]"; filename=%q`, i, f.Name))
		ctype := f.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		hdr.Set("Content-Type", ctype)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("write file part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.http.Do(req)
}

func result(resp *http.Response) *PostResult {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	res := &PostResult{StatusCode: resp.StatusCode, Body: body}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err == nil {
		res.MessageID = created.ID
	}
	return res
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64)
	if err != nil || secs <= 0 {
		secs = 1
	}
	d := time.Duration(secs * float64(time.Second))
	if d < 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	return d
}

func ensureQueryParam(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get(key) != value {
		q.Set(key, value)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
