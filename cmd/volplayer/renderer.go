package main

import (
	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/playback"
)

// statsRenderer stands in for a graphics host: it checks every block it is
// handed and logs what a host would upload.
type statsRenderer struct {
	log       logger.Logger
	lastFrame int
}

func newStatsRenderer(log logger.Logger) *statsRenderer {
	return &statsRenderer{log: log, lastFrame: -1}
}

func (r *statsRenderer) Render(tick playback.Tick) error {
	if tick.Geometry != nil {
		block := tick.Geometry
		if err := block.Validate(); err != nil {
			return err
		}
		if block.Frame != r.lastFrame {
			r.log.WithFields(map[string]interface{}{
				"frame":    block.Frame,
				"vertices": block.VertexCount(),
				"indices":  block.IndexCount(),
				"texture":  block.Texture.Length,
			}).Debug("Geometry uploaded")
			r.lastFrame = block.Frame
		}
	}
	if tick.Video != nil {
		r.log.WithFields(map[string]interface{}{
			"video_frame": tick.Video.Index,
			"pts":         tick.Video.PTS,
			"drift":       tick.Decision.Drift,
		}).Debug("Texture uploaded")
	}
	return nil
}
