package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFetchRemote(t *testing.T) {
	payload := encodePNG(t, 4, 4)
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client()}
	rc, err := f.Fetch(context.Background(), srv.URL+"/cat.png")
	require.NoError(t, err)
	defer rc.Close() // nolint:errcheck

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, body)
	require.Equal(t, DefaultUserAgent, agent)
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client()}
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestFetchTooManyRequestsBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := &memoryRateStore{}
	f := &Fetcher{Client: srv.Client(), Limiter: &RateLimiter{Store: store}}

	_, err := f.Fetch(context.Background(), srv.URL+"/a.png")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))

	_, err = f.Fetch(context.Background(), srv.URL+"/a.png")
	var limited *RateLimitError
	require.True(t, errors.As(err, &limited))

	parsed, perr := url.Parse(srv.URL)
	require.NoError(t, perr)
	require.Equal(t, parsed.Hostname(), limited.Host)
	require.Greater(t, limited.RetryAfter, time.Duration(0))
}

func TestFetchLocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, 2, 2), 0o600))

	f := &Fetcher{}
	for _, ref := range []string{path, "file://" + path} {
		rc, err := f.Fetch(context.Background(), ref)
		require.NoError(t, err, ref)
		require.NoError(t, rc.Close())
	}

	_, err := f.Fetch(context.Background(), filepath.Join(dir, "nope.png"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFetchRemoteOnlyConfinesLocalPaths(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "ref.png")
	require.NoError(t, os.WriteFile(inside, encodePNG(t, 2, 2), 0o600))
	outside := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(outside, encodePNG(t, 2, 2), 0o600))

	f := &Fetcher{RemoteOnly: true, LocalRoots: []string{root}}
	for _, ref := range []string{inside, "file://" + inside} {
		rc, err := f.Fetch(context.Background(), ref)
		require.NoError(t, err, ref)
		require.NoError(t, rc.Close())
	}

	for _, ref := range []string{
		outside,
		"file://" + outside,
		filepath.Join(root, "..", filepath.Base(filepath.Dir(outside)), "secret.png"),
		"/etc/hosts",
		filepath.Join(root, "missing.png"),
	} {
		_, err := f.Fetch(context.Background(), ref)
		require.ErrorIs(t, err, ErrLocalReference, ref)
	}

	_, err := (&Fetcher{RemoteOnly: true}).Fetch(context.Background(), inside)
	require.ErrorIs(t, err, ErrLocalReference)
}

func TestFetchRequiresReference(t *testing.T) {
	_, err := (&Fetcher{}).Fetch(context.Background(), "  ")
	require.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	require.True(t, IsRemote("https://example.com/a.png"))
	require.True(t, IsRemote("HTTP://example.com/a.png"))
	require.False(t, IsRemote("/tmp/a.png"))
	require.False(t, IsRemote("file:///tmp/a.png"))
}
