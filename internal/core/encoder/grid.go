package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// GridEmbedder splits the frame into Rows×Cols cells and embeds each cell
// as its colour values after scaling it to a Patch×Patch square. Values are
// centred on zero so that unit normalization keeps colour contrast.
type GridEmbedder struct {
	Rows  int
	Cols  int
	Patch int
}

// NewGridEmbedder returns an embedder with the given layout; zero values
// fall back to a 3×3 grid of 8-pixel patches.
func NewGridEmbedder(rows, cols, patch int) *GridEmbedder {
	g := &GridEmbedder{Rows: rows, Cols: cols, Patch: patch}
	if g.Rows <= 0 {
		g.Rows = 3
	}
	if g.Cols <= 0 {
		g.Cols = 3
	}
	if g.Patch <= 0 {
		g.Patch = 8
	}
	return g
}

// Name identifies the layout.
func (g *GridEmbedder) Name() string {
	return fmt.Sprintf("grid-%dx%d-%d", g.Rows, g.Cols, g.Patch)
}

// Dim is the embedding width produced per region.
func (g *GridEmbedder) Dim() int {
	return g.Patch * g.Patch * 3
}

// Embed returns one region per cell, row-major from the top-left corner.
// Positions and sizes are fractions of the frame.
func (g *GridEmbedder) Embed(ctx context.Context, img image.Image) (Regions, error) {
	if img == nil {
		return Regions{}, errors.New("image is required")
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < g.Cols || height < g.Rows {
		return Regions{}, fmt.Errorf("image %dx%d too small for %dx%d grid", width, height, g.Cols, g.Rows)
	}

	var out Regions
	patch := image.NewRGBA(image.Rect(0, 0, g.Patch, g.Patch))
	for r := 0; r < g.Rows; r++ {
		y0 := bounds.Min.Y + r*height/g.Rows
		y1 := bounds.Min.Y + (r+1)*height/g.Rows
		for c := 0; c < g.Cols; c++ {
			if err := ctx.Err(); err != nil {
				return Regions{}, err
			}
			x0 := bounds.Min.X + c*width/g.Cols
			x1 := bounds.Min.X + (c+1)*width/g.Cols
			cell := image.Rect(x0, y0, x1, y1)

			draw.ApproxBiLinear.Scale(patch, patch.Bounds(), img, cell, draw.Src, nil)

			out.Embeddings = append(out.Embeddings, flattenRGB(patch))
			out.Positions = append(out.Positions, []float64{
				float64(x0-bounds.Min.X) / float64(width),
				float64(y0-bounds.Min.Y) / float64(height),
			})
			out.Sizes = append(out.Sizes, []float64{
				float64(x1-x0) / float64(width),
				float64(y1-y0) / float64(height),
			})
		}
	}
	return out, nil
}

func flattenRGB(img *image.RGBA) []float64 {
	b := img.Bounds()
	row := make([]float64, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			for k := 0; k < 3; k++ {
				row = append(row, float64(img.Pix[i+k])/255-0.5)
			}
		}
	}
	return row
}

var _ RegionEmbedder = (*GridEmbedder)(nil)
