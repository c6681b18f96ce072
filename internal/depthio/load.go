// Package depthio is the file boundary of the depth tools: it decodes
// guide and depth images into Mats, encodes results, and routes optional
// outputs to a Sink.
package depthio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// SupportedExtensions lists the file extensions Load and Save accept.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// IOError records which file operation failed.
type IOError struct {
	Operation string
	Path      string
	Err       error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("depth io error in %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("depth io error in %s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Metadata captures lightweight file and pixel information.
type Metadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
	Channels  int
	Type      imgbuf.SampleType
}

// Load opens and decodes an image file. Read failures wrap
// errs.ErrUnreadableInput.
func Load(path string, mode imgbuf.ReadMode) (*imgbuf.Mat, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &IOError{Operation: "load", Err: fmt.Errorf("%w: empty path", errs.ErrUnreadableInput)}
	}
	if !IsSupported(path) {
		return nil, Metadata{}, &IOError{Operation: "load", Path: path,
			Err: fmt.Errorf("%w: unsupported format %q", errs.ErrUnreadableInput, filepath.Ext(path))}
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading user supplied image paths is the point
	if err != nil {
		return nil, Metadata{}, &IOError{Operation: "load", Path: path, Err: fmt.Errorf("%w: %w", errs.ErrUnreadableInput, err)}
	}
	m, format, err := Decode(bytes.NewReader(data), mode)
	if err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			ioErr.Path = path
		}
		return nil, Metadata{}, err
	}
	return m, Metadata{
		Path:      path,
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     m.Width,
		Height:    m.Height,
		Channels:  m.Channels,
		Type:      m.Type,
	}, nil
}

// Decode reads any registered image format from r.
func Decode(r io.Reader, mode imgbuf.ReadMode) (*imgbuf.Mat, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", &IOError{Operation: "decode", Err: fmt.Errorf("%w: %w", errs.ErrUnreadableInput, err)}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", &IOError{Operation: "decode", Err: fmt.Errorf("%w: image has no pixels", errs.ErrUnreadableInput)}
	}
	m, err := imgbuf.FromImage(img, mode)
	if err != nil {
		return nil, "", &IOError{Operation: "convert", Err: err}
	}
	return m, format, nil
}

// LoadPair loads a rectified left/right pair and checks that the sizes
// agree.
func LoadPair(leftPath, rightPath string, mode imgbuf.ReadMode) (left, right *imgbuf.Mat, err error) {
	left, _, err = Load(leftPath, mode)
	if err != nil {
		return nil, nil, err
	}
	right, _, err = Load(rightPath, mode)
	if err != nil {
		return nil, nil, err
	}
	if !left.SameSize(right) {
		return nil, nil, errs.Parameter("right_image", fmt.Sprintf("%dx%d", right.Width, right.Height),
			fmt.Sprintf("must match left image size %dx%d", left.Width, left.Height))
	}
	return left, right, nil
}
