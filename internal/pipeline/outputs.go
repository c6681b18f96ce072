package pipeline

import (
	"fmt"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

// WriteOutputs hands every product of r to sink: the filtered and raw
// maps, the confidence map when present, and 8-bit previews of both
// disparities.
func (r *Result) WriteOutputs(sink depthio.Sink) error {
	if sink == nil {
		return nil
	}
	outs := []struct {
		name depthio.Output
		m    *imgbuf.Mat
	}{
		{depthio.OutputFiltered, r.Filtered},
		{depthio.OutputRaw, r.Raw},
		{depthio.OutputConfidence, r.Confidence},
		{depthio.OutputRawPreview, depthio.Visualize(r.Raw, depthio.RawPreviewScale)},
		{depthio.OutputFiltPreview, depthio.Visualize(r.Filtered, depthio.FilteredPreviewScale)},
	}
	for _, o := range outs {
		if o.m == nil {
			continue
		}
		if err := sink.Write(o.name, o.m); err != nil {
			return fmt.Errorf("write %s: %w", o.name, err)
		}
	}
	return nil
}
