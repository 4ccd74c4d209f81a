package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeImageDownscales(t *testing.T) {
	img, format, err := DecodeImage(bytes.NewReader(encodePNG(t, 40, 20)), 10)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 10, img.Bounds().Dx())
	require.Equal(t, 5, img.Bounds().Dy())
}

func TestDecodeImageKeepsSmallImages(t *testing.T) {
	img, _, err := DecodeImage(bytes.NewReader(encodePNG(t, 6, 3)), 10)
	require.NoError(t, err)
	require.Equal(t, 6, img.Bounds().Dx())
	require.Equal(t, 3, img.Bounds().Dy())
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, _, err := DecodeImage(bytes.NewReader([]byte("not an image")), 0)
	require.Error(t, err)
}

func TestLoaderLoadImage(t *testing.T) {
	payload := encodePNG(t, 32, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	loader := &Loader{Fetcher: &Fetcher{Client: srv.Client()}, MaxSize: 16}
	img, err := loader.LoadImage(context.Background(), srv.URL+"/ref.png")
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 16, img.Bounds().Dy())
}
