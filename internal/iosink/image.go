package iosink

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// ImageConfig parameterizes the heatmap sink.
type ImageConfig struct {
	OutDir   string
	Location string
}

// ImageSink renders each 2-D input key as a heatmap PNG per chunk,
// directly with image/png against a fixed blue-to-red colormap.
type ImageSink struct {
	name string
	cfg  ImageConfig
	keys []string
}

func NewImageSink(name string, cfg ImageConfig, keys []string) *ImageSink {
	return &ImageSink{name: name, cfg: cfg, keys: append([]string(nil), keys...)}
}

func (s *ImageSink) Name() string { return s.name }

func (s *ImageSink) RequiredKeys() []string { return s.keys }

func (s *ImageSink) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	return map[string]continuity.ProcessorAlignment{}, nil
}

func (s *ImageSink) Process(ctx context.Context, in *composite.Result) (map[string]chunk.Payload, error) {
	if err := os.MkdirAll(s.cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("iosink: creating image dir: %w", err)
	}
	for _, key := range s.keys {
		payload, ok := in.Inputs[key]
		if !ok || payload.IsEvent() || payload.Rows < 2 {
			continue
		}
		img := heatmap(payload)
		path := filepath.Join(s.cfg.OutDir, fmt.Sprintf("%s_%s_%d.png", s.cfg.Location, key, in.Number))
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("iosink: creating %s: %w", path, err)
		}
		err = png.Encode(f, img)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("iosink: encoding %s: %w", path, err)
		}
	}
	return nil, nil
}

// heatmap renders payload (scale x time, origin bottom) as an RGBA image
// with a blue-to-red colormap over the payload's own min/max range.
func heatmap(p chunk.Payload) *image.RGBA {
	lo, hi := p.Values[0], p.Values[0]
	for _, v := range p.Values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, p.Cols, p.Rows))
	for r := 0; r < p.Rows; r++ {
		row := p.Row(r)
		y := p.Rows - 1 - r // origin bottom
		for c, v := range row {
			t := (v - lo) / span
			img.Set(c, y, colormap(t))
		}
	}
	return img
}

func (s *ImageSink) Finalize() error { return nil }

func colormap(t float64) color.RGBA {
	t = math.Max(0, math.Min(1, t))
	return color.RGBA{
		R: uint8(255 * t),
		G: uint8(255 * (1 - math.Abs(2*t-1))),
		B: uint8(255 * (1 - t)),
		A: 255,
	}
}
