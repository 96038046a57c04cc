// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/pkg/manifest"
)

const (
	// DefaultTimeout bounds a single download.
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxBytes bounds a single payload (1 GiB).
	DefaultMaxBytes int64 = 1 << 30

	defaultUserAgent = "layerkit"
)

// ErrChecksumMismatch indicates the downloaded payload does not match its
// declared SHA-256 digest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

type (
	// ChecksumError details a digest mismatch. It wraps ErrChecksumMismatch.
	ChecksumError struct {
		URL      string
		Expected string
		Got      string
	}

	// HTTPStatusError reports a non-200 response.
	HTTPStatusError struct {
		URL    string
		Status int
	}

	// Downloader fetches remote sources over HTTP.
	Downloader struct {
		client    *http.Client
		timeout   time.Duration
		maxBytes  int64
		userAgent string
	}

	// DownloaderOption configures a Downloader.
	DownloaderOption func(*Downloader)
)

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s: expected %s, got %s", e.URL, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Transient reports whether the status is worth retrying.
func (e *HTTPStatusError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// WithHTTPClient sets the HTTP client, useful for tests or proxies.
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) { d.client = c }
}

// WithTimeout bounds each download. Zero keeps DefaultTimeout.
func WithTimeout(t time.Duration) DownloaderOption {
	return func(d *Downloader) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithMaxBytes bounds the payload size.
func WithMaxBytes(n int64) DownloaderOption {
	return func(d *Downloader) { d.maxBytes = n }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) { d.userAgent = ua }
}

// NewDownloader creates a Downloader with defaults.
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client:    http.DefaultClient,
		timeout:   DefaultTimeout,
		maxBytes:  DefaultMaxBytes,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch downloads rawURL and verifies it against sha256Hex when non-empty.
// Network failures and 5xx/429 responses are PackageUnavailable and may be
// retried; other statuses and digest mismatches are SourceNotFound.
func (d *Downloader) Fetch(ctx context.Context, rawURL, sha256Hex string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resource := redactURL(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fault.New(fault.KindPackageUnavailable, resource, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		statusErr := &HTTPStatusError{URL: resource, Status: resp.StatusCode}
		if statusErr.Transient() {
			return nil, fault.New(fault.KindPackageUnavailable, resource, statusErr)
		}
		return nil, fault.New(fault.KindSourceNotFound, resource, statusErr)
	}

	data, err := copyLimited(resp.Body, d.maxBytes)
	if err != nil {
		return nil, fault.New(fault.KindPackageUnavailable, resource, fmt.Errorf("reading body: %w", err))
	}

	if sha256Hex != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != sha256Hex {
			return nil, fault.New(fault.KindSourceNotFound, resource,
				&ChecksumError{URL: resource, Expected: sha256Hex, Got: got})
		}
	}
	return data, nil
}

func (s *Stager) stageRemote(ctx context.Context, src manifest.Source) (Result, error) {
	data, err := s.downloader.Fetch(ctx, src.URL, src.SHA256)
	if err != nil {
		return Result{}, err
	}
	if src.Extract {
		return extract(s.target, src.URL, data, src.To)
	}
	changed, err := writeFile(s.target, src.To, data, 0o644)
	if err != nil {
		return Result{}, err
	}
	var res Result
	res.add(int64(len(data)), changed)
	return res, nil
}

// redactURL drops credentials and query parameters from u for messages.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
