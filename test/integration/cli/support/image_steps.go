package support

import (
	"fmt"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/testutil"
)

// writeImage stores m as PNG under the scenario directory.
func (testCtx *TestContext) writeImage(name string, m *imgbuf.Mat) error {
	img, err := imgbuf.ToImage(m)
	if err != nil {
		return err
	}
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // G304: scenario file
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// aRectifiedStereoPair writes <name>_l.png and <name>_r.png, a 96x40
// textured plane shifted by the disparity.
func (testCtx *TestContext) aRectifiedStereoPair(name string, disparity int) error {
	left, right := testutil.PlanarPair(96, 40, disparity, 7)
	if err := testCtx.writeImage(name+"_l.png", left); err != nil {
		return err
	}
	return testCtx.writeImage(name+"_r.png", right)
}

func (testCtx *TestContext) aDepthMapFilledWith(name, sampleType string, w, h int, value float64) error {
	t, err := imgbuf.ParseSampleType(sampleType)
	if err != nil {
		return err
	}
	return testCtx.writeImage(name, imgbuf.NewFilled(w, h, t, value))
}

func (testCtx *TestContext) aGuideImage(name string, w, h int) error {
	return testCtx.writeImage(name, testutil.TexturedImage(w, h, 3))
}

func (testCtx *TestContext) anEmptyDirectory(name string) error {
	return os.MkdirAll(testCtx.Path(name), 0o750)
}

func (testCtx *TestContext) loadImage(name string) (*imgbuf.Mat, error) {
	m, _, err := depthio.Load(testCtx.Path(name), imgbuf.ReadUnchanged)
	return m, err
}

func (testCtx *TestContext) theImageShouldHaveSampleType(name, sampleType string) error {
	m, err := testCtx.loadImage(name)
	if err != nil {
		return err
	}
	if m.Type.String() != sampleType {
		return fmt.Errorf("%s has sample type %s, want %s", name, m.Type, sampleType)
	}
	return nil
}

func (testCtx *TestContext) theImageShouldHaveValueAt(name string, want float64, x, y int) error {
	m, err := testCtx.loadImage(name)
	if err != nil {
		return err
	}
	if got := m.At(x, y); math.Abs(got-want) > 0.5 {
		return fmt.Errorf("%s(%d,%d) = %v, want %v", name, x, y, got, want)
	}
	return nil
}

func (testCtx *TestContext) theImageShouldBeOfSize(name string, w, h int) error {
	m, err := testCtx.loadImage(name)
	if err != nil {
		return err
	}
	if m.Width != w || m.Height != h {
		return fmt.Errorf("%s is %dx%d, want %dx%d", name, m.Width, m.Height, w, h)
	}
	return nil
}

// RegisterImageSteps registers the image fixture and assertion steps.
func (testCtx *TestContext) RegisterImageSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a rectified stereo pair "([^"]*)" with disparity (\d+)$`, testCtx.aRectifiedStereoPair)
	sc.Step(`^a depth map "([^"]*)" of type (\w+) and size (\d+)x(\d+) filled with ([0-9.]+)$`, testCtx.aDepthMapFilledWith)
	sc.Step(`^an empty directory "([^"]*)"$`, testCtx.anEmptyDirectory)
	sc.Step(`^a guide image "([^"]*)" of size (\d+)x(\d+)$`, testCtx.aGuideImage)
	sc.Step(`^the image "([^"]*)" should have sample type "([^"]*)"$`, testCtx.theImageShouldHaveSampleType)
	sc.Step(`^the image "([^"]*)" should have value ([0-9.]+) at (\d+),(\d+)$`, testCtx.theImageShouldHaveValueAt)
	sc.Step(`^the image "([^"]*)" should be (\d+)x(\d+)$`, testCtx.theImageShouldBeOfSize)
}
