// Package thumbnail derives compact BlurHash previews from image artifacts.
//
// A BlurHash is a short base83 string that clients render instantly as a
// blurred placeholder while the full image downloads. The encoder works on a
// downscaled copy; BlurHash discards detail anyway, so scaling first keeps
// encoding cheap for large uploads.
package thumbnail

import (
	"fmt"
	"image"
	"io"
	"strings"

	// Registered decoders for the formats uploads arrive in.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/buckket/go-blurhash"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// imageExtensions lists the artifact extensions the generator can decode.
var imageExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
}

// IsImageExtension reports whether an artifact with the given file extension
// should go through thumbnail derivation. Accepts a leading dot and any case.
func IsImageExtension(ext string) bool {
	return imageExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// Generator encodes image streams into BlurHash strings.
type Generator struct {
	// MaxBox is the bounding box (pixels) images are downscaled into before
	// encoding, preserving aspect ratio.
	MaxBox int
}

// NewGenerator creates a Generator. A non-positive maxBox falls back to 100.
func NewGenerator(maxBox int) *Generator {
	if maxBox <= 0 {
		maxBox = 100
	}
	return &Generator{MaxBox: maxBox}
}

// Encode decodes the image from r, downscales it to fit MaxBox, and returns
// its BlurHash encoding.
func (g *Generator) Encode(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}

	hash, err := blurhash.Encode(4, 3, g.downscale(img))
	if err != nil {
		return "", fmt.Errorf("encoding blurhash: %w", err)
	}
	return hash, nil
}

// downscale fits img into the MaxBox bounding box, preserving aspect ratio.
// Images already within the box are returned as-is.
func (g *Generator) downscale(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= g.MaxBox && h <= g.MaxBox {
		return img
	}

	scale := float64(g.MaxBox) / float64(max(w, h))
	nw := max(int(float64(w)*scale), 1)
	nh := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
