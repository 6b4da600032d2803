// Package thumbnail derives fixed-size raster variants from original image
// buffers.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	// Register decoders for the formats the source attachments arrive in.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/provender/shelfsync/pkg/logging"
)

// Size is one configured thumbnail target. Output always fits inside
// MaxWidth x MaxHeight preserving aspect ratio.
type Size struct {
	Name      string
	MaxWidth  int
	MaxHeight int
	Quality   int // JPEG quality
}

// DefaultSizes returns the three standard variants.
func DefaultSizes() []Size {
	return []Size{
		{Name: "small", MaxWidth: 200, MaxHeight: 200, Quality: 80},
		{Name: "medium", MaxWidth: 500, MaxHeight: 500, Quality: 85},
		{Name: "large", MaxWidth: 800, MaxHeight: 800, Quality: 90},
	}
}

// OutputExt is the extension of every generated variant. Variants are
// re-encoded to JPEG regardless of the original format.
const OutputExt = ".jpg"

// Rendition is one successfully generated variant, ready for upload.
type Rendition struct {
	SizeName string
	Data     []byte
	Width    int
	Height   int
}

// Generator produces renditions for a configured size set.
type Generator struct {
	sizes []Size
}

// New creates a Generator. Passing no sizes uses the defaults.
func New(sizes ...Size) *Generator {
	if len(sizes) == 0 {
		sizes = DefaultSizes()
	}
	return &Generator{sizes: sizes}
}

// Sizes returns the configured size set.
func (g *Generator) Sizes() []Size {
	return g.sizes
}

// Decode decodes the original and reports its pixel dimensions and format.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Generate derives every configured size from the original bytes. Sizes run
// concurrently since each produces an independent output. A failure on one
// size is logged and skipped; it aborts neither the other sizes nor the
// caller. Only an undecodable original is a hard error.
func (g *Generator) Generate(ctx context.Context, original []byte) ([]Rendition, error) {
	img, _, err := Decode(original)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	renditions := make([]Rendition, 0, len(g.sizes))

	eg, ctx := errgroup.WithContext(ctx)
	for _, size := range g.sizes {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			rendition, err := render(img, size)
			if err != nil {
				logging.Warn().
					Err(err).
					Str("size", size.Name).
					Msg("Thumbnail generation failed, skipping size")
				return nil
			}

			mu.Lock()
			renditions = append(renditions, rendition)
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Stable output order regardless of completion order.
	ordered := make([]Rendition, 0, len(renditions))
	for _, size := range g.sizes {
		for _, r := range renditions {
			if r.SizeName == size.Name {
				ordered = append(ordered, r)
			}
		}
	}

	return ordered, nil
}

// render scales one image into the size's bounding box and re-encodes it.
func render(img image.Image, size Size) (Rendition, error) {
	bounds := img.Bounds()
	width, height := fit(bounds.Dx(), bounds.Dy(), size.MaxWidth, size.MaxHeight)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	quality := size.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return Rendition{}, fmt.Errorf("encode %s variant: %w", size.Name, err)
	}

	return Rendition{
		SizeName: size.Name,
		Data:     buf.Bytes(),
		Width:    width,
		Height:   height,
	}, nil
}

// fit scales (w, h) down to fit inside (maxW, maxH) preserving aspect ratio.
// Images already inside the box are not upscaled.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}

	ratioW := float64(maxW) / float64(w)
	ratioH := float64(maxH) / float64(h)
	ratio := ratioW
	if ratioH < ratio {
		ratio = ratioH
	}

	scaledW := int(float64(w) * ratio)
	scaledH := int(float64(h) * ratio)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	return scaledW, scaledH
}
