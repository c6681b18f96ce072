// Package imgbuf provides the pixel grid shared by the matcher, the
// confidence check and the WLS filter.
//
// A Mat stores samples as float64 regardless of its SampleType; the type
// governs saturation whenever samples are written or converted, so every
// stage sees the same values a typed buffer would hold.
package imgbuf

import (
	"fmt"
	"image"
	"math"

	"github.com/MeKo-Tech/stereowls/internal/errs"
)

// Mat is a row-major, channel-interleaved pixel grid.
type Mat struct {
	Width    int
	Height   int
	Channels int
	Type     SampleType
	Data     []float64
}

// New allocates a zero-filled Mat.
func New(width, height, channels int, t SampleType) *Mat {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	if channels < 1 {
		channels = 1
	}
	return &Mat{
		Width:    width,
		Height:   height,
		Channels: channels,
		Type:     t,
		Data:     make([]float64, width*height*channels),
	}
}

// NewFilled allocates a single-channel Mat with every sample set to v.
func NewFilled(width, height int, t SampleType, v float64) *Mat {
	m := New(width, height, 1, t)
	m.Fill(v)
	return m
}

// FromSlice wraps samples in a single-channel Mat, saturating them to t.
func FromSlice(width, height int, t SampleType, data []float64) (*Mat, error) {
	if len(data) != width*height {
		return nil, errs.Parameter("data", len(data), fmt.Sprintf("must hold %d samples", width*height))
	}
	m := New(width, height, 1, t)
	for i, v := range data {
		m.Data[i] = t.Saturate(v)
	}
	return m, nil
}

// Empty reports whether the Mat holds no pixels.
func (m *Mat) Empty() bool { return m == nil || m.Width == 0 || m.Height == 0 }

// Bounds returns the pixel rectangle covered by the Mat.
func (m *Mat) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

// SameSize reports whether both Mats cover the same pixel grid.
func (m *Mat) SameSize(o *Mat) bool {
	return m != nil && o != nil && m.Width == o.Width && m.Height == o.Height
}

// Index returns the offset of sample (x, y, c) in Data.
func (m *Mat) Index(x, y, c int) int { return (y*m.Width+x)*m.Channels + c }

// At returns channel 0 of pixel (x, y).
func (m *Mat) At(x, y int) float64 { return m.Data[(y*m.Width+x)*m.Channels] }

// AtC returns channel c of pixel (x, y).
func (m *Mat) AtC(x, y, c int) float64 { return m.Data[m.Index(x, y, c)] }

// Set writes channel 0 of pixel (x, y), saturating to the Mat's type.
func (m *Mat) Set(x, y int, v float64) { m.Data[(y*m.Width+x)*m.Channels] = m.Type.Saturate(v) }

// SetC writes channel c of pixel (x, y), saturating to the Mat's type.
func (m *Mat) SetC(x, y, c int, v float64) { m.Data[m.Index(x, y, c)] = m.Type.Saturate(v) }

// Fill sets every sample to v.
func (m *Mat) Fill(v float64) {
	v = m.Type.Saturate(v)
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Clone returns a deep copy.
func (m *Mat) Clone() *Mat {
	c := *m
	c.Data = make([]float64, len(m.Data))
	copy(c.Data, m.Data)
	return &c
}

// ConvertTo returns saturate(alpha*v + beta) for every sample, stored as t.
func (m *Mat) ConvertTo(t SampleType, alpha, beta float64) *Mat {
	out := New(m.Width, m.Height, m.Channels, t)
	for i, v := range m.Data {
		out.Data[i] = t.Saturate(alpha*v + beta)
	}
	return out
}

// Channel extracts channel c as a single-channel Mat.
func (m *Mat) Channel(c int) *Mat {
	out := New(m.Width, m.Height, 1, m.Type)
	for i := range out.Data {
		out.Data[i] = m.Data[i*m.Channels+c]
	}
	return out
}

// Gray reduces a 3 or 4 channel RGB(A) Mat to luminance with the
// ITU-R 601 weights. Single-channel Mats are cloned; other channel counts
// keep channel 0.
func (m *Mat) Gray() *Mat {
	if m.Channels == 1 {
		return m.Clone()
	}
	if m.Channels < 3 {
		return m.Channel(0)
	}
	out := New(m.Width, m.Height, 1, m.Type)
	for i := range out.Data {
		base := i * m.Channels
		v := 0.299*m.Data[base] + 0.587*m.Data[base+1] + 0.114*m.Data[base+2]
		out.Data[i] = m.Type.Saturate(v)
	}
	return out
}

// MinMax returns the smallest and largest finite samples. An empty Mat
// yields (0, 0).
func (m *Mat) MinMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
