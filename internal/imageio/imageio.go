// Package imageio handles uploaded images: the extension allow-list,
// temporary storage and decoding to RGB for engines that need it.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Nadiam75/snappify/internal/engines"
)

// AllowedExtensions are the accepted upload extensions, lower case.
var AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".webp"}

// CheckExtension rejects file names whose extension is not allowed.
func CheckExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return engines.NewRequestError(engines.KindUnsupportedFile,
		fmt.Sprintf("Unsupported file type. Allowed: %s", strings.Join(AllowedExtensions, ", ")))
}

// SaveTemp copies r into a new file in dir (the system temp dir when
// empty), keeping the extension of filename. The caller removes the file
// with the returned cleanup.
func SaveTemp(dir, filename string, r io.Reader) (path string, cleanup func(), err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	f, err := os.CreateTemp(dir, "snappify-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup = func() { _ = os.Remove(f.Name()) }

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

// DefaultMaxPixels caps width × height of decoded images.
const DefaultMaxPixels = 89_478_485

// ErrTooManyPixels is returned for images whose header declares more pixels
// than allowed.
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// Decode reads and decodes the image at path with the default pixel limit.
func Decode(path string) (image.Image, string, error) {
	return DecodeLimited(path, DefaultMaxPixels)
}

// DecodeLimited decodes the image at path after checking its header
// against maxPixels. The pixel data is never read for oversized images.
func DecodeLimited(path string, maxPixels int64) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, "", fmt.Errorf("cannot decode image %s: %w", filepath.Base(path), err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, "", fmt.Errorf("%w: %s is %dx%d, limit is %d pixels",
			ErrTooManyPixels, filepath.Base(path), cfg.Width, cfg.Height, maxPixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, "", err
	}

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("cannot decode image %s: %w", filepath.Base(path), err)
	}
	return img, format, nil
}

// ToRGB flattens img onto a white background so the result has no alpha
// channel.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// Converter writes decoded RGB copies of images as PNG files.
type Converter struct {
	// Dir holds the converted files; the system temp dir when empty.
	Dir string
	// MaxPixels rejects larger images; DefaultMaxPixels when zero.
	MaxPixels int64
}

// ConvertRGB implements engines.ImageConverter.
func (c Converter) ConvertRGB(path string) (string, func(), error) {
	limit := c.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	img, _, err := DecodeLimited(path, limit)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp(c.Dir, "snappify-rgb-*.png")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if err := png.Encode(f, ToRGB(img)); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to encode rgb image: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write rgb image: %w", err)
	}
	return f.Name(), cleanup, nil
}
