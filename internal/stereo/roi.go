package stereo

import (
	"image"

	"github.com/MeKo-Tech/stereowls/internal/errs"
)

// ComputeROI returns the part of a disparity map that is geometrically valid
// for the given search range and block size: columns where every candidate
// block stays inside the target image and rows clear of the half block at
// the top and bottom. The result is clipped to the image; an empty region is
// reported as ErrInvalidParameter.
func ComputeROI(size image.Point, minDisparity, numDisparities, blockSize int) (image.Rectangle, error) {
	r := roiRect(size, minDisparity, numDisparities, blockSize)
	if r.Empty() {
		return image.Rectangle{}, errs.Parameter("roi", r,
			"empty for this image size, disparity range and block size")
	}
	return r, nil
}

// roiRect applies the ROI formula without the emptiness check.
func roiRect(size image.Point, minDisparity, numDisparities, blockSize int) image.Rectangle {
	bs2 := blockSize / 2
	maxD := minDisparity + numDisparities - 1

	r := image.Rect(0, 0, 0, 0)
	r.Min.X = maxD + bs2
	r.Max.X = size.X + minDisparity - bs2
	r.Min.Y = bs2
	r.Max.Y = size.Y - bs2

	// image.Rect would swap inverted corners; collapse them instead.
	if r.Max.X < r.Min.X {
		r.Max.X = r.Min.X
	}
	if r.Max.Y < r.Min.Y {
		r.Max.Y = r.Min.Y
	}
	r = r.Intersect(image.Rectangle{Max: size})
	if r.Empty() {
		return image.Rectangle{}
	}
	return r
}

// matchRect is the region where a matcher produces disparities: the ROI
// additionally kept clear of the reference block border when the search
// range does not straddle zero.
func matchRect(size image.Point, p Params) image.Rectangle {
	r := roiRect(size, p.MinDisparity, p.NumDisparities, p.BlockSize)
	bs2 := p.BlockSize / 2
	return r.Intersect(image.Rect(bs2, bs2, size.X-bs2, size.Y-bs2))
}
