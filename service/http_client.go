package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/kwv/gcransac/ransac"
)

const (
	// DefaultFetchTimeout bounds one request to a matcher endpoint.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of attempts made for transient failures.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// maxCorrespondenceBytes caps a downloaded correspondence document at 50 MB
	maxCorrespondenceBytes = 50 << 20
)

// errPermanent marks responses that retrying cannot fix
var errPermanent = errors.New("permanent failure")

// FetchOption configures FetchCorrespondences.
type FetchOption func(*fetcher)

type fetcher struct {
	client      *http.Client
	timeout     time.Duration
	attempts    int
	baseBackoff time.Duration
}

// WithTimeout sets the per-request timeout used when no client is supplied.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *fetcher) { f.timeout = d }
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(f *fetcher) { f.attempts = n }
}

// WithBaseBackoff sets the first retry delay; later delays double.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(f *fetcher) { f.baseBackoff = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(f *fetcher) { f.client = client }
}

// FetchCorrespondences downloads a correspondence set from a matcher endpoint.
// JSON bodies are parsed with ParseCorrespondenceJSON, anything else as
// x1 y1 x2 y2 rows. Transport errors, 5xx, 408 and 429 responses are retried
// with exponential backoff; other client errors and malformed bodies are not.
func FetchCorrespondences(ctx context.Context, url string, opts ...FetchOption) (*ransac.CorrespondenceSet, error) {
	if url == "" {
		return nil, fmt.Errorf("fetch correspondences: URL is empty")
	}
	f := fetcher{timeout: DefaultFetchTimeout, attempts: DefaultMaxRetries, baseBackoff: defaultBaseBackoff}
	for _, opt := range opts {
		opt(&f)
	}
	f.attempts = max(f.attempts, 1)
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}

	var lastErr error
	backoff := f.baseBackoff
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("fetch correspondences: %w", ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
		}

		set, err := f.get(ctx, url)
		if err == nil {
			return set, nil
		}
		if errors.Is(err, errPermanent) {
			return nil, fmt.Errorf("fetch correspondences: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch correspondences: all %d attempts failed: %w", f.attempts, lastErr)
}

// get performs one request and decodes the body according to its media type
func (f *fetcher) get(ctx context.Context, url string) (*ransac.CorrespondenceSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", errPermanent, err)
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: GET %s: status %d", errPermanent, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCorrespondenceBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	var set *ransac.CorrespondenceSet
	if isJSONBody(resp.Header.Get("Content-Type"), body) {
		set, err = ParseCorrespondenceJSON(body)
	} else {
		set, err = ParseCorrespondenceText(bytes.NewReader(body))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", errPermanent, url, err)
	}
	return set, nil
}

// isJSONBody trusts an explicit JSON media type, otherwise looks at the first byte.
// Servers that omit Content-Type get a sniffed text/plain from net/http.
func isJSONBody(contentType string, body []byte) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
