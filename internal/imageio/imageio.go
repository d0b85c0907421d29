// Package imageio converts between encoded image bytes, files and gocv Mats.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// ErrUndecodable is returned when bytes or a file do not hold an image
// OpenCV can read.
var ErrUndecodable = errors.New("cannot decode image")

// Decode reads encoded bytes (PNG, JPEG, ...) into a 3-channel BGR Mat.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: no data", ErrUndecodable)
	}
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), ErrUndecodable
	}
	return img, nil
}

// DecodeGray reads encoded bytes into a single-channel Mat.
func DecodeGray(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), ErrUndecodable
	}
	return img, nil
}

// EncodePNG returns img as PNG bytes owned by the Go heap.
func EncodePNG(img gocv.Mat) ([]byte, error) {
	if img.Empty() {
		return nil, errors.New("encode png: empty image")
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

// ReadFile loads a colour image from disk.
func ReadFile(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		if _, err := os.Stat(path); err != nil {
			return gocv.NewMat(), err
		}
		return gocv.NewMat(), fmt.Errorf("%w: %s", ErrUndecodable, path)
	}
	return img, nil
}

// WriteFile stores img at path, creating parent directories. The format
// follows the file extension.
func WriteFile(path string, img gocv.Mat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if ok := gocv.IMWrite(path, img); !ok {
		return fmt.Errorf("write image %s failed", path)
	}
	return nil
}

// IsImageFile reports whether path has an extension OpenCV is expected to read.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".bmp", ".webp":
		return true
	}
	return false
}
