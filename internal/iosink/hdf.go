// Package iosink implements the persisted-output boundary: a rotating
// HDF5-shaped writer (via internal/hdf5lite) and a heatmap image sink for
// 2-D feature keys.
package iosink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
	"github.com/soundmesh/soundmesh/internal/hdf5lite"
)

// Config parameterizes the HDF writer.
type Config struct {
	BaseDir     string
	Location    string
	MaxFileSize int64
}

// HDFWriter is the OutputProcessor persisting every input key to a
// rotating hdf5lite container: one file per
// `<base>/<YYYY-MM-DD>/<location>.<N>.hdf5`, rotating at MaxFileSize bytes
// or on discontinuity, one resizable dataset per key, file attributes
// mirroring the producer's metadata map.
type HDFWriter struct {
	name string
	cfg  Config
	keys []string

	file        *hdf5lite.File
	filePath    string
	fileIndex   int
	fileDate    string
	approxBytes int64
	chunkCount  int64
}

// NewHDFWriter builds an HDF writer subscribing to the given input keys.
func NewHDFWriter(name string, cfg Config, keys []string) *HDFWriter {
	return &HDFWriter{name: name, cfg: cfg, keys: append([]string(nil), keys...)}
}

func (w *HDFWriter) Name() string { return w.name }

func (w *HDFWriter) RequiredKeys() []string { return w.keys }

func (w *HDFWriter) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	return map[string]continuity.ProcessorAlignment{}, nil
}

func (w *HDFWriter) Process(ctx context.Context, in *composite.Result) (map[string]chunk.Payload, error) {
	date := in.StartTime.Format("2006-01-02")
	if w.file == nil || date != w.fileDate || !in.Continuity.AtLeast(continuity.WithPrevious) || w.approxBytes >= w.cfg.MaxFileSize {
		if err := w.rotate(date, in); err != nil {
			return nil, err
		}
	}

	w.chunkCount++
	for _, key := range w.keys {
		payload, ok := in.Inputs[key]
		if !ok || payload.IsEvent() {
			continue
		}
		ds := w.file.EnsureDataset(key, payload.Rows)
		ds.AppendColumns(payload.Values, payload.Cols)
		ds.Attributes["starttime"] = in.StartTime.Unix()
		if fs := in.AlignmentIn.FSampling; fs > 0 {
			ds.Attributes["endtime"] = in.StartTime.Add(time.Duration(float64(payload.Cols) / fs * float64(time.Second))).Unix()
		}

		if w.chunkCount%100 == 0 {
			ds.Attributes[fmt.Sprintf("data_generation_time@%d", ds.Cols)] = in.DataGenerationTime[w.name].Unix()
		}
		w.approxBytes += int64(payload.Cols * payload.Rows * 8)
	}

	for k, v := range in.Metadata {
		if v.ConfigJSON == "" && v.ConfigHash == "" {
			continue
		}
		w.file.Attributes[k] = v
	}

	if err := w.file.Save(w.filePath); err != nil {
		return nil, fmt.Errorf("iosink: writing %s: %w", w.filePath, err)
	}
	return nil, nil
}

func (w *HDFWriter) rotate(date string, in *composite.Result) error {
	dir := filepath.Join(w.cfg.BaseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("iosink: creating output dir %s: %w", dir, err)
	}
	if date != w.fileDate {
		w.fileIndex = 0
	} else {
		w.fileIndex++
	}
	w.fileDate = date
	w.approxBytes = 0
	w.filePath = filepath.Join(dir, fmt.Sprintf("%s.%d.hdf5", w.cfg.Location, w.fileIndex))
	w.file = hdf5lite.NewFile()
	return nil
}

func (w *HDFWriter) Finalize() error {
	if w.file == nil {
		return nil
	}
	return w.file.Save(w.filePath)
}

var _ board.Processor = (*HDFWriter)(nil)
