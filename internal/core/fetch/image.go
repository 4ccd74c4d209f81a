package fetch

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"

	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// DecodeImage decodes r and, when maxSize > 0, downscales the image so its
// longest side is at most maxSize. The detected format is returned.
func DecodeImage(r io.Reader, maxSize int) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return Downscale(img, maxSize), format, nil
}

// Downscale returns img unchanged when it already fits within maxSize.
func Downscale(img image.Image, maxSize int) image.Image {
	if maxSize <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}

	var tw, th int
	if w >= h {
		tw = maxSize
		th = max(1, h*maxSize/w)
	} else {
		th = maxSize
		tw = max(1, w*maxSize/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Loader fetches and decodes image prompt references.
type Loader struct {
	Fetcher *Fetcher
	MaxSize int
}

// LoadImage implements the prompt image loader.
func (l *Loader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	var f *Fetcher
	maxSize := 0
	if l != nil {
		f = l.Fetcher
		maxSize = l.MaxSize
	}
	rc, err := f.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close() // nolint:errcheck // best-effort cleanup

	img, _, err := DecodeImage(rc, maxSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return img, nil
}
