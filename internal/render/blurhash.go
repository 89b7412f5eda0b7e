package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"os"

	"github.com/bbrks/go-blurhash"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// blurHashSize is the thumbnail edge the hash is computed from.
	blurHashSize = 64
	// previewSize is the edge of the decoded placeholder image; the browser
	// stretches it, so it only needs a handful of pixels.
	previewSize = 16
)

// ComputeBlurHash generates a 4x3 component BlurHash from an image file.
func ComputeBlurHash(imagePath string) (string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	hash, err := blurhash.Encode(4, 3, thumbnail(img))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}

// PlaceholderDataURI decodes a BlurHash into a tiny PNG data URI usable as a
// CSS background while the real cover loads.
func PlaceholderDataURI(hash string) (string, error) {
	img, err := blurhash.Decode(hash, previewSize, previewSize, 1)
	if err != nil {
		return "", fmt.Errorf("decode blurhash: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode placeholder: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// thumbnail scales img down so its longer edge is at most blurHashSize.
func thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= blurHashSize && h <= blurHashSize {
		return img
	}

	long := max(w, h)
	dst := image.NewRGBA(image.Rect(0, 0,
		max(w*blurHashSize/long, 1),
		max(h*blurHashSize/long, 1)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
