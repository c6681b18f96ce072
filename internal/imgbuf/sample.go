package imgbuf

import (
	"fmt"
	"math"
	"strings"

	"github.com/MeKo-Tech/stereowls/internal/errs"
)

// SampleType is the storage type of a single pixel sample.
type SampleType int

const (
	U8 SampleType = iota
	U16
	S16
	S32
	F32
	F64
)

var sampleNames = map[SampleType]string{
	U8:  "u8",
	U16: "u16",
	S16: "s16",
	S32: "s32",
	F32: "f32",
	F64: "f64",
}

// SampleTypes lists every accepted sample type in declaration order.
func SampleTypes() []SampleType { return []SampleType{U8, U16, S16, S32, F32, F64} }

func (t SampleType) String() string {
	if n, ok := sampleNames[t]; ok {
		return n
	}
	return fmt.Sprintf("SampleType(%d)", int(t))
}

// Valid reports whether t is one of the accepted sample types.
func (t SampleType) Valid() bool {
	_, ok := sampleNames[t]
	return ok
}

// IsInteger reports whether samples of t are stored as integers.
func (t SampleType) IsInteger() bool { return t == U8 || t == U16 || t == S16 || t == S32 }

// Range returns the representable range of t.
func (t SampleType) Range() (lo, hi float64) {
	switch t {
	case U8:
		return 0, math.MaxUint8
	case U16:
		return 0, math.MaxUint16
	case S16:
		return math.MinInt16, math.MaxInt16
	case S32:
		return math.MinInt32, math.MaxInt32
	case F32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}

// Saturate converts v to the nearest value representable by t. Integer
// types round half to even and clamp; NaN becomes zero for integer types.
func (t SampleType) Saturate(v float64) float64 {
	if !t.IsInteger() {
		if t == F64 || math.IsNaN(v) {
			return v
		}
		lo, hi := t.Range()
		return float64(float32(math.Max(lo, math.Min(hi, v))))
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := t.Range()
	v = math.RoundToEven(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParseSampleType maps a name such as "u16" or "CV_16S" to a SampleType.
func ParseSampleType(name string) (SampleType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "cv_")
	aliases := map[string]SampleType{
		"u8": U8, "8u": U8, "uint8": U8,
		"u16": U16, "16u": U16, "uint16": U16,
		"s16": S16, "16s": S16, "int16": S16,
		"s32": S32, "32s": S32, "int32": S32,
		"f32": F32, "32f": F32, "float32": F32,
		"f64": F64, "64f": F64, "float64": F64,
	}
	if t, ok := aliases[n]; ok {
		return t, nil
	}
	names := make([]string, 0, len(sampleNames))
	for _, t := range SampleTypes() {
		names = append(names, t.String())
	}
	return 0, fmt.Errorf("%w: %q (want one of %s)", errs.ErrUnsupportedSampleFormat, name, strings.Join(names, ", "))
}
