package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/edges"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
)

func (a *app) newEdgesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edges IMAGE",
		Short: "Write an 8-bit edge map of an image",
		Long: `Detect edges with the Sobel, Scharr or Laplacian operator. Colour images are
converted to gray first.

Examples:
  stereowls edges left.png -o edges.png
  stereowls edges left.png -o edges.png --method laplacian`,
		Args: cobra.ExactArgs(1),
		RunE: a.runEdges,
	}
	addOutputFlags(cmd.Flags())
	cmd.Flags().StringP("method", "m", string(edges.Sobel), "edge operator: sobel, scharr or laplacian")
	return cmd
}

func (a *app) runEdges(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	out, preview, format := outputFlags(fs)
	name, _ := fs.GetString("method")
	method, err := edges.ParseMethod(name)
	if err != nil {
		return err
	}

	img, _, err := depthio.Load(args[0], imgbuf.ReadColor)
	if err != nil {
		return err
	}

	start := time.Now()
	edgeMap, err := edges.Detect(img, method)
	if err != nil {
		return fmt.Errorf("edge detection failed: %w", err)
	}
	return finishDepth(cmd, depthJob{
		command:    "edges",
		inputs:     args,
		out:        edgeMap,
		sampleType: imgbuf.U8,
		settings:   map[string]any{"method": string(method)},
		path:       out,
		preview:    preview,
		format:     format,
		elapsed:    time.Since(start),
	})
}
