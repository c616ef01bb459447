// Command volinspect prints what a geometry container and its texture video
// hold, without playing them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/volplayer/internal/geometry"
	"github.com/zsiec/volplayer/internal/video"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B35"))

type report struct {
	Geometry  *geometry.Info `json:"geometry,omitempty"`
	Keyframes []int          `json:"keyframes,omitempty"`
	Frame     *frameReport   `json:"frame,omitempty"`
	Video     *video.Info    `json:"video,omitempty"`
}

type frameReport struct {
	geometry.FrameRecord
	Kind        string `json:"kind"`
	ChainLength int    `json:"chain_length"`
	Vertices    int    `json:"vertices"`
	Indices     int    `json:"indices"`
	Bytes       int    `json:"bytes"`
}

func main() {
	var (
		headerPath   string
		sequencePath string
		videoPath    string
		frame        int
		asJSON       bool
	)
	flag.StringVar(&headerPath, "header", "", "Path to the geometry header file")
	flag.StringVar(&sequencePath, "sequence", "", "Path to the geometry sequence file")
	flag.StringVar(&videoPath, "video", "", "Path to the texture video (IVF)")
	flag.IntVar(&frame, "frame", -1, "Decode this geometry frame")
	flag.BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	flag.Parse()

	if headerPath == "" && videoPath == "" {
		fmt.Fprintln(os.Stderr, "volinspect: need -header/-sequence or -video")
		flag.Usage()
		os.Exit(2)
	}

	rep, err := inspect(context.Background(), headerPath, sequencePath, videoPath, frame)
	if err != nil {
		fmt.Fprintf(os.Stderr, "volinspect: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "volinspect: %v\n", err)
			os.Exit(1)
		}
		return
	}
	printReport(os.Stdout, rep)
}

func inspect(ctx context.Context, headerPath, sequencePath, videoPath string, frame int) (*report, error) {
	rep := &report{}

	if headerPath != "" {
		stream, err := geometry.Open(ctx, "", headerPath, sequencePath, frame < 0)
		if err != nil {
			return nil, err
		}
		defer stream.Close()

		info, err := stream.Info()
		if err != nil {
			return nil, err
		}
		rep.Geometry = &info

		for n := 0; n < info.FrameCount; n++ {
			if key, _ := stream.IsKeyframe(n); key {
				rep.Keyframes = append(rep.Keyframes, n)
			}
		}

		if frame >= 0 {
			fr, err := decodeFrame(stream, frame)
			if err != nil {
				return nil, err
			}
			rep.Frame = fr
		}
	}

	if videoPath != "" {
		v, err := video.Open(videoPath)
		if err != nil {
			return nil, err
		}
		defer v.Close()
		info, err := v.Info()
		if err != nil {
			return nil, err
		}
		rep.Video = &info
	}
	return rep, nil
}

func decodeFrame(stream *geometry.Stream, n int) (*frameReport, error) {
	rec, err := stream.Record(n)
	if err != nil {
		return nil, err
	}
	chain, err := stream.ChainLength(n)
	if err != nil {
		return nil, err
	}
	if err := stream.ReadFrame(n); err != nil {
		return nil, err
	}
	block, err := stream.CurrentBlock()
	if err != nil {
		return nil, err
	}
	return &frameReport{
		FrameRecord: rec,
		Kind:        rec.Kind.String(),
		ChainLength: chain,
		Vertices:    block.VertexCount(),
		Indices:     block.IndexCount(),
		Bytes:       len(block.Data),
	}, nil
}

func printReport(w io.Writer, rep *report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k string, v interface{}) { fmt.Fprintf(tw, "  %s\t%v\n", k, v) }

	if g := rep.Geometry; g != nil {
		fmt.Fprintln(tw, titleStyle.Render("Geometry"))
		row("mesh", g.Header.MeshName)
		row("material", g.Header.Material)
		row("shader", g.Header.Shader)
		row("version", g.Header.Version)
		row("compression", g.Compression)
		row("frames", g.FrameCount)
		row("keyframes", fmt.Sprintf("%d %v", g.KeyframeCount, rep.Keyframes))
		row("normals", g.Header.HasNormals)
		row("textured", g.Header.Textured)
	}
	if f := rep.Frame; f != nil {
		fmt.Fprintln(tw, titleStyle.Render(fmt.Sprintf("Frame %d", f.Number)))
		row("kind", f.Kind)
		row("keyframe", f.Keyframe)
		row("chain", f.ChainLength)
		row("stored bytes", f.Size)
		row("vertices", f.Vertices)
		row("indices", f.Indices)
		row("block bytes", f.Bytes)
	}
	if v := rep.Video; v != nil {
		fmt.Fprintln(tw, titleStyle.Render("Video"))
		row("codec", v.Codec)
		row("size", fmt.Sprintf("%dx%d", v.Width, v.Height))
		row("frame rate", fmt.Sprintf("%.3f", v.FrameRate))
		row("frames", v.FrameCount)
		row("duration", v.Duration)
	}
	tw.Flush()
}
