package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Imageconv-Signature"
	HeaderTimestamp = "X-Imageconv-Timestamp"
	HeaderEvent     = "X-Imageconv-Event"
	HeaderDelivery  = "X-Imageconv-Delivery"

	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"

	userAgent        = "imageconv-webhook/1"
	signaturePrefix  = "sha256="
	maxResponseDrain = 4 << 10
)

var (
	// ErrPermanent marks a delivery the receiver rejected outright; it is not retried.
	ErrPermanent = errors.New("webhook rejected")
	// ErrStaleTimestamp is returned by VerifyRequest for deliveries outside the tolerance window.
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
	ErrBadSignature   = errors.New("webhook signature mismatch")
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client posts signed job notifications. Deliveries of one payload share a
// delivery ID and timestamp across retries so receivers can deduplicate.
type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
	newDeliveryID  func() string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
		now:            time.Now,
		newDeliveryID:  uuid.NewString,
	}
}

// Send delivers payload as event to endpoint. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	delivery := c.newDeliveryID()
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.post(ctx, endpoint, body, map[string]string{
			HeaderTimestamp: timestamp,
			HeaderSignature: signature,
			HeaderEvent:     event,
			HeaderDelivery:  delivery,
		})
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return fmt.Errorf("webhook delivery %s: %w", delivery, lastErr)
		}
		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery %s failed after %d attempts: %w", delivery, c.maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	return classifyStatus(resp.StatusCode)
}

// classifyStatus treats 2xx as delivered and client errors other than timeouts
// and throttling as permanent.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status=%d", status)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status=%d", ErrPermanent, status)
	default:
		return fmt.Errorf("webhook returned status=%d", status)
	}
}

// Sign computes the signature header value for a delivery: an HMAC-SHA256 over
// "timestamp.body" keyed by secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the delivery.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}

// VerifyRequest checks a received delivery's signature and rejects timestamps
// further than tolerance from now. The body is returned for decoding.
func VerifyRequest(r *http.Request, secret string, tolerance time.Duration, now time.Time) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	timestamp := r.Header.Get(HeaderTimestamp)
	sent, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrStaleTimestamp, timestamp)
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(sent, 0))
		if skew > tolerance || skew < -tolerance {
			return nil, fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew.Round(time.Second))
		}
	}
	if !Verify(secret, timestamp, body, r.Header.Get(HeaderSignature)) {
		return nil, ErrBadSignature
	}
	return body, nil
}
