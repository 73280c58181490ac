// Package transfer performs byte transfer to and from signed URLs issued by
// the Atlas Explorer gateway. It retries transient failures with jittered
// exponential backoff and knows nothing about encryption.
package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/mips-tech/atlasexplorer/api"
	"github.com/mips-tech/atlasexplorer/pkg/version"
)

const (
	defaultMaxAttempts     = 4
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second

	// maxErrorBodySize bounds how much of an error response body is read for
	// inclusion in error messages.
	maxErrorBodySize = 500
)

// Error is returned when a transfer fails after exhausting its retry policy,
// or immediately for non-retryable failures.
type Error struct {
	// Op is "upload" or "download".
	Op string
	// URL is the redacted form of the signed URL.
	URL string
	// StatusCode is the last HTTP status received, if any.
	StatusCode int
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer error: %s %s failed after %d attempt(s): %v", e.Op, e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config tunes a Client. The zero value gets sensible defaults from New.
type Config struct {
	// HTTPClient is used for all requests. Defaults to a client with a
	// one minute timeout.
	HTTPClient *http.Client
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts uint64
	// InitialInterval is the first backoff interval.
	InitialInterval time.Duration
	// MaxInterval caps the backoff interval.
	MaxInterval time.Duration
	// Clock is used for signed URL expiry checks.
	Clock clockwork.Clock
	// Logger receives retry notifications.
	Logger *logrus.Entry
}

// Client uploads and downloads bytes via signed URLs. It is safe for
// concurrent use.
type Client struct {
	httpClient      *http.Client
	maxAttempts     uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	clock           clockwork.Clock
	log             *logrus.Entry
}

// New creates a transfer client, applying defaults for unset config fields.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.WithField("component", "transfer")
	}

	return &Client{
		httpClient:      cfg.HTTPClient,
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		clock:           cfg.Clock,
		log:             cfg.Logger,
	}
}

// Upload PUTs data to the signed URL. A SHA-256 checksum header is included
// so the receiving store can verify the payload arrived intact. A retried PUT
// to the same signed URL overwrites identically, so retries are safe.
func (c *Client) Upload(ctx context.Context, signedURL api.SignedURL, data []byte) error {
	checksum := sha256.Sum256(data)
	checksumBase64 := base64.StdEncoding.EncodeToString(checksum[:])

	return c.retry(ctx, "upload", signedURL, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, methodOrDefault(signedURL, http.MethodPut), signedURL.URL, bytes.NewReader(data))
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Amz-Checksum-Sha256", checksumBase64)
		version.SetUserAgent(req)

		res, err := c.httpClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer res.Body.Close()

		if code := res.StatusCode; code < 200 || code >= 300 {
			return code, statusError(res)
		}
		return res.StatusCode, nil
	})
}

// Download GETs the signed URL and returns the body bytes.
func (c *Client) Download(ctx context.Context, signedURL api.SignedURL) ([]byte, error) {
	var body []byte

	err := c.retry(ctx, "download", signedURL, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, methodOrDefault(signedURL, http.MethodGet), signedURL.URL, nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		version.SetUserAgent(req)

		res, err := c.httpClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer res.Body.Close()

		if code := res.StatusCode; code < 200 || code >= 300 {
			return code, statusError(res)
		}

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return res.StatusCode, fmt.Errorf("reading response body: %w", err)
		}
		body = data
		return res.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// retry drives one logical transfer through the retry policy. 4xx responses
// and expired signed URLs are not retried.
func (c *Client) retry(ctx context.Context, op string, signedURL api.SignedURL, attempt func() (int, error)) error {
	var (
		attempts   int
		lastStatus int
	)

	operation := func() error {
		// The expiry check counts as an attempt: it is the attempt's
		// outcome, even though no request goes out.
		attempts++
		if signedURL.Expired(c.clock.Now()) {
			return backoff.Permanent(fmt.Errorf("signed URL expired at %s", signedURL.ExpiresAt.Format(time.RFC3339)))
		}

		code, err := attempt()
		if code != 0 {
			lastStatus = code
		}
		if err == nil {
			return nil
		}

		// Client errors won't be fixed by retrying.
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.initialInterval
	backOff.MaxInterval = c.maxInterval
	backOff.MaxElapsedTime = 0

	notify := func(err error, d time.Duration) {
		c.log.WithField("url", signedURL.Redacted()).Warnf("%s retrying in %v after error: %s", op, d, err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(backOff, c.maxAttempts-1), ctx), notify)
	if err != nil {
		return &Error{
			Op:         op,
			URL:        signedURL.Redacted(),
			StatusCode: lastStatus,
			Attempts:   attempts,
			Err:        err,
		}
	}
	return nil
}

func methodOrDefault(signedURL api.SignedURL, fallback string) string {
	if signedURL.Method != "" {
		return signedURL.Method
	}
	return fallback
}

func statusError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
	if len(body) == 0 {
		body = []byte(`<empty body>`)
	}
	return fmt.Errorf("received response with status code %d: %s", res.StatusCode, bytes.TrimSpace(body))
}
