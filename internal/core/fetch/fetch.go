// Package fetch resolves image prompt references to bytes and decoded
// images. References may be http(s) URLs, file:// URLs or local paths;
// a remote-only Fetcher confines the latter two to configured roots.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultUserAgent is sent with remote requests.
const DefaultUserAgent = "promptsteer/fetch"

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// RateLimitError is returned when a host is throttled locally.
type RateLimitError struct {
	Host       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("fetch %s: rate limited, retry after %s", e.Host, e.RetryAfter.Round(time.Second))
}

// ErrLocalReference is returned when a remote-only Fetcher is asked for a
// local file outside its allowed roots.
var ErrLocalReference = errors.New("local reference not allowed")

// Fetcher opens prompt references.
type Fetcher struct {
	Client    *http.Client
	Limiter   *RateLimiter
	UserAgent string
	Timeout   time.Duration

	// RemoteOnly rejects local paths and file:// URLs unless they resolve
	// inside one of LocalRoots.
	RemoteOnly bool
	LocalRoots []string
}

// Fetch opens ref for reading. The caller closes the returned reader.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("fetch: reference is required")
	}

	if IsRemote(ref) {
		return f.fetchRemote(ctx, ref)
	}

	path := ref
	if strings.HasPrefix(ref, "file://") {
		parsed, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("fetch: invalid file url: %w", err)
		}
		path = parsed.Path
	}
	if f != nil && f.RemoteOnly {
		resolved, err := f.allowLocal(path)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	// #nosec G304 -- local paths are either CLI input or confined to LocalRoots
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return file, nil
}

// allowLocal resolves path, following symlinks, and accepts it only when it
// lies inside a configured root.
func (f *Fetcher) allowLocal(path string) (string, error) {
	denied := fmt.Errorf("fetch %s: %w", path, ErrLocalReference)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", denied
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", denied
	}
	for _, root := range f.LocalRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootReal, err := filepath.EvalSymlinks(rootAbs)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootReal, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return resolved, nil
	}
	return "", denied
}

// IsRemote reports whether ref is an http or https URL.
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (f *Fetcher) fetchRemote(ctx context.Context, ref string) (io.ReadCloser, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	host := parsed.Hostname()

	var limiter *RateLimiter
	if f != nil {
		limiter = f.Limiter
	}
	allowed, wait, err := limiter.Allow(ctx, host)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &RateLimitError{Host: host, RetryAfter: wait}
	}

	cancel := func() {}
	if f != nil && f.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent())

	resp, err := f.client().Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	_ = limiter.Record(ctx, host)

	if resp.StatusCode == http.StatusTooManyRequests {
		retry, _ := retryAfterHeader(resp)
		_ = limiter.Record429(ctx, host, retry)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{URL: ref, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (f *Fetcher) client() *http.Client {
	if f != nil && f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *Fetcher) userAgent() string {
	if f != nil && strings.TrimSpace(f.UserAgent) != "" {
		return f.UserAgent
	}
	return DefaultUserAgent
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func retryAfterHeader(resp *http.Response) (time.Duration, map[string]any) {
	if resp == nil || resp.Header == nil {
		return 0, nil
	}

	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0, nil
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds, map[string]any{"retry_after": retry}
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return time.Until(parsed), map[string]any{"retry_after": retry}
	}

	return 0, map[string]any{"retry_after": retry}
}
