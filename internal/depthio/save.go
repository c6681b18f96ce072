package depthio

import (
	"bufio"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// Format is an encodable file format.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG, nil
	case ".jpg", ".jpeg":
		return JPEG, nil
	case ".bmp":
		return BMP, nil
	case ".tif", ".tiff":
		return TIFF, nil
	}
	return "", errs.Parameter("output_path", path, "must end in .png, .jpg, .jpeg, .bmp, .tif or .tiff")
}

// Encode writes m in format f. PNG and TIFF store 8 or 16-bit samples,
// JPEG and BMP 8-bit only; other sample types must be converted first.
func Encode(w io.Writer, m *imgbuf.Mat, f Format) error {
	if (f == JPEG || f == BMP) && m.Type != imgbuf.U8 {
		return fmt.Errorf("%w: %s stores 8-bit samples, got %s", errs.ErrUnsupportedSampleFormat, f, m.Type)
	}
	img, err := imgbuf.ToImage(m)
	if err != nil {
		return err
	}
	switch f {
	case PNG:
		err = png.Encode(w, img)
	case JPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case BMP:
		err = bmp.Encode(w, img)
	case TIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return errs.Parameter("format", f, "must be png, jpeg, bmp or tiff")
	}
	if err != nil {
		return &IOError{Operation: "encode", Err: err}
	}
	return nil
}

// Save converts m to sample type t when it is not already stored that way
// and writes it to path in the format its extension names.
func Save(path string, m *imgbuf.Mat, t imgbuf.SampleType) (err error) {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	if m.Type != t {
		m = m.ConvertTo(t, 1, 0)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &IOError{Operation: "save", Path: path, Err: err}
		}
	}
	file, err := os.Create(path) //nolint:gosec // G304: output path is user supplied
	if err != nil {
		return &IOError{Operation: "save", Path: path, Err: err}
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = &IOError{Operation: "save", Path: path, Err: cerr}
		}
	}()
	bw := bufio.NewWriter(file)
	if err := Encode(bw, m, f); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return &IOError{Operation: "save", Path: path, Err: err}
	}
	return nil
}

// Visualize maps a disparity map to 8-bit preview intensities,
// saturate(v * scale). Raw fixed-point maps are usually previewed with
// scale 0.3 and filtered ones with 1.
func Visualize(m *imgbuf.Mat, scale float64) *imgbuf.Mat {
	return m.ConvertTo(imgbuf.U8, scale, 0)
}

const (
	// RawPreviewScale is the preview scale for raw fixed-point disparity.
	RawPreviewScale = 0.3
	// FilteredPreviewScale is the preview scale for filtered disparity.
	FilteredPreviewScale = 1.0
)
