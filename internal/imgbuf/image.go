package imgbuf

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/disintegration/imaging"
)

// ReadMode selects how a decoded image becomes a Mat.
type ReadMode int

const (
	// ReadGray produces a single-channel 8-bit luminance Mat.
	ReadGray ReadMode = iota
	// ReadColor produces a 3-channel 8-bit RGB Mat.
	ReadColor
	// ReadUnchanged keeps the decoded bit depth and channel layout.
	ReadUnchanged
)

// FromImage converts a decoded image into a Mat.
func FromImage(img image.Image, mode ReadMode) (*Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: input image is nil", errs.ErrUnreadableInput)
	}
	switch mode {
	case ReadGray:
		return fromGray(img), nil
	case ReadColor:
		return fromNRGBA(imaging.Clone(img)), nil
	case ReadUnchanged:
		return fromUnchanged(img), nil
	default:
		return nil, errs.Parameter("read_mode", int(mode), "must be gray, color or unchanged")
	}
}

func fromGray(img image.Image) *Mat {
	if g, ok := img.(*image.Gray); ok {
		return grayToMat(g)
	}
	// imaging.Grayscale keeps the image as NRGBA with equal channels.
	gs := imaging.Grayscale(img)
	b := gs.Bounds()
	m := New(b.Dx(), b.Dy(), 1, U8)
	for y := 0; y < m.Height; y++ {
		row := gs.Pix[y*gs.Stride:]
		for x := 0; x < m.Width; x++ {
			m.Data[y*m.Width+x] = float64(row[x*4])
		}
	}
	return m
}

func grayToMat(g *image.Gray) *Mat {
	b := g.Bounds()
	m := New(b.Dx(), b.Dy(), 1, U8)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			m.Data[y*m.Width+x] = float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
		}
	}
	return m
}

func fromNRGBA(src *image.NRGBA) *Mat {
	b := src.Bounds()
	m := New(b.Dx(), b.Dy(), 3, U8)
	for y := 0; y < m.Height; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < m.Width; x++ {
			i := m.Index(x, y, 0)
			m.Data[i] = float64(row[x*4])
			m.Data[i+1] = float64(row[x*4+1])
			m.Data[i+2] = float64(row[x*4+2])
		}
	}
	return m
}

func fromUnchanged(img image.Image) *Mat {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray:
		return grayToMat(src)
	case *image.Gray16:
		m := New(b.Dx(), b.Dy(), 1, U16)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				m.Data[y*m.Width+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return m
	case *image.RGBA64, *image.NRGBA64:
		m := New(b.Dx(), b.Dy(), 3, U16)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				i := m.Index(x, y, 0)
				m.Data[i], m.Data[i+1], m.Data[i+2] = float64(c.R), float64(c.G), float64(c.B)
			}
		}
		return m
	default:
		return fromNRGBA(imaging.Clone(img))
	}
}

// ErrNotEncodable is returned by ToImage for layouts no image.Image models.
var ErrNotEncodable = errors.New("mat layout has no image representation")

// ToImage converts 1 or 3 channel u8/u16 Mats back into an image.Image.
func ToImage(m *Mat) (image.Image, error) {
	if m.Empty() {
		return nil, errs.Parameter("image", "empty", "must have positive width and height")
	}
	r := m.Bounds()
	switch {
	case m.Channels == 1 && m.Type == U8:
		g := image.NewGray(r)
		for i, v := range m.Data {
			g.Pix[i] = uint8(U8.Saturate(v))
		}
		return g, nil
	case m.Channels == 1 && m.Type == U16:
		g := image.NewGray16(r)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				g.SetGray16(x, y, color.Gray16{Y: uint16(U16.Saturate(m.At(x, y)))})
			}
		}
		return g, nil
	case m.Channels >= 3 && m.Type == U8:
		out := image.NewNRGBA(r)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				out.SetNRGBA(x, y, color.NRGBA{
					R: uint8(m.AtC(x, y, 0)), G: uint8(m.AtC(x, y, 1)), B: uint8(m.AtC(x, y, 2)), A: 0xff,
				})
			}
		}
		return out, nil
	case m.Channels >= 3 && m.Type == U16:
		out := image.NewNRGBA64(r)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				out.SetNRGBA64(x, y, color.NRGBA64{
					R: uint16(m.AtC(x, y, 0)), G: uint16(m.AtC(x, y, 1)), B: uint16(m.AtC(x, y, 2)), A: 0xffff,
				})
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %w (%d channel %s)", errs.ErrUnsupportedSampleFormat, ErrNotEncodable, m.Channels, m.Type)
}
