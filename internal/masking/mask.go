package masking

import (
	"image"
	"image/draw"

	"golang.org/x/image/vector"
)

// keepThreshold is the rasterizer coverage at which a pixel counts as inside
const keepThreshold = 0x80

// Apply returns img with every pixel outside the union of polygons set to zero.
// With no polygons img itself is returned. The input is never modified.
func Apply(img image.Image, polygons []Polygon) image.Image {
	if len(polygons) == 0 {
		return img
	}
	return compose(img, buildMask(img.Bounds(), polygons))
}

// Region is a compiled zone bound to one stream. It caches the binary mask for
// the most recent frame size, so a stream with a stable resolution rasterizes
// its polygons once. A Region is not safe for concurrent use.
type Region struct {
	polygons []Polygon
	bounds   image.Rectangle
	mask     *image.Alpha
}

// NewRegion compiles polygons into a region
func NewRegion(polygons []Polygon) *Region {
	return &Region{polygons: polygons}
}

// Empty reports whether the region keeps the whole frame
func (r *Region) Empty() bool {
	return r == nil || len(r.polygons) == 0
}

// Apply masks img to the region
func (r *Region) Apply(img image.Image) image.Image {
	if r.Empty() {
		return img
	}

	b := img.Bounds()
	if r.mask == nil || !r.bounds.Eq(b) {
		r.mask = buildMask(b, r.polygons)
		r.bounds = b
	}
	return compose(img, r.mask)
}

// buildMask rasterizes every polygon into one binary alpha mask whose origin
// is b.Min. Polygons are drawn one at a time with the Over operator so
// overlapping polygons union instead of cancelling.
func buildMask(b image.Rectangle, polygons []Polygon) *image.Alpha {
	w, h := b.Dx(), b.Dy()
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return mask
	}

	z := vector.NewRasterizer(w, h)
	for _, poly := range polygons {
		if len(poly) == 0 {
			continue
		}
		z.Reset(w, h)
		z.MoveTo(float32(poly[0].X-b.Min.X), float32(poly[0].Y-b.Min.Y))
		for _, pt := range poly[1:] {
			z.LineTo(float32(pt.X-b.Min.X), float32(pt.Y-b.Min.Y))
		}
		z.ClosePath()
		z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	}

	for i, a := range mask.Pix {
		if a >= keepThreshold {
			mask.Pix[i] = 0xff
		} else {
			mask.Pix[i] = 0
		}
	}
	return mask
}

// compose copies img through mask into a fresh RGBA image
func compose(img image.Image, mask *image.Alpha) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.DrawMask(out, b, img, b.Min, mask, image.Point{}, draw.Src)
	return out
}
