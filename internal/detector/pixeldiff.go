package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/orisano/pixelmatch"
)

// DefaultPixelThreshold is the YIQ colour distance (0..1) below which two
// pixels count as equal
const DefaultPixelThreshold = 0.1

// PixelDiff is the result of comparing two images
type PixelDiff struct {
	Count int
	Image *image.RGBA
}

// ComparePNGFiles decodes and compares two PNG files
func ComparePNGFiles(oldPath, newPath string, threshold float64) (*PixelDiff, error) {
	oldImg, err := decodePNG(oldPath)
	if err != nil {
		return nil, err
	}
	newImg, err := decodePNG(newPath)
	if err != nil {
		return nil, err
	}
	return CompareImages(oldImg, newImg, threshold)
}

func decodePNG(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// CompareImages counts differing pixels with pixelmatch. Images of different
// sizes are matched over their common top-left area; every other pixel of the
// bounding box counts as changed and is drawn red in the diff image.
func CompareImages(a, b image.Image, threshold float64) (*PixelDiff, error) {
	ab, bb := a.Bounds(), b.Bounds()
	common := image.Rect(0, 0, min(ab.Dx(), bb.Dx()), min(ab.Dy(), bb.Dy()))
	full := image.Rect(0, 0, max(ab.Dx(), bb.Dx()), max(ab.Dy(), bb.Dy()))

	var matched image.Image
	count, err := pixelmatch.MatchPixel(crop(a, common), crop(b, common),
		pixelmatch.Threshold(threshold),
		pixelmatch.WriteTo(&matched),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compare screenshots: %w", err)
	}

	out := image.NewRGBA(full)
	if !full.Eq(common) {
		draw.Draw(out, full, image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)
		count += full.Dx()*full.Dy() - common.Dx()*common.Dy()
	}
	if matched != nil {
		draw.Draw(out, common, matched, image.Point{}, draw.Src)
	} else {
		// Identical areas come back without a diff image
		draw.Draw(out, common, image.NewUniform(color.White), image.Point{}, draw.Src)
	}

	return &PixelDiff{Count: count, Image: out}, nil
}

// crop copies the r-sized top-left corner of img onto a zero-origin canvas
func crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, img.Bounds().Min, draw.Src)
	return dst
}

// WritePNG saves the diff image
func (d *PixelDiff) WritePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create diff image: %w", err)
	}
	if err := png.Encode(f, d.Image); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode diff image: %w", err)
	}
	return f.Close()
}
