package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/continuity"
	"github.com/soundmesh/soundmesh/internal/errors"
)

// sourceRuntime drives an Input Processor: it has no
// subscriptions and no composite manager, calling Generate directly and
// publishing its own envelope.
type sourceRuntime struct {
	name   string
	proc   SourceProcessor
	logger *slog.Logger

	outputs    map[string]*Publisher
	configMeta chunk.ChunkMeta

	boardErr chan<- ErrorMessage
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	numbers map[string]int64
}

func newSourceRuntime(name string, proc SourceProcessor, logger *slog.Logger, boardErr chan<- ErrorMessage, configMeta chunk.ChunkMeta) *sourceRuntime {
	return &sourceRuntime{
		name:       name,
		proc:       proc,
		logger:     logger,
		outputs:    make(map[string]*Publisher),
		configMeta: configMeta,
		boardErr:   boardErr,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		numbers:    make(map[string]int64),
	}
}

func (r *sourceRuntime) run(ctx context.Context) {
	defer close(r.doneCh)

	alignments, err := r.proc.Prerun(ctx)
	if err != nil {
		r.reportFatal(err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.finalize()
			return
		case <-r.stopCh:
			r.finalize()
			return
		default:
		}

		data, ok, err := r.proc.Generate(ctx)
		if err != nil {
			if errors.IsKind(err, errors.KindTransient) {
				r.logger.Warn("source recovered from transient error", "processor", r.name, "error", err)
				continue
			}
			r.reportFatal(err)
			r.finalize()
			return
		}
		if !ok {
			r.finalize()
			return
		}

		r.publish(data, alignments)
		if data.Continuity == continuity.Last {
			r.finalize()
			return
		}
	}
}

func (r *sourceRuntime) publish(data GeneratedData, alignments map[string]continuity.ProcessorAlignment) {
	now := time.Now()
	for key, pub := range r.outputs {
		payload, ok := data.Payloads[key]
		if !ok {
			continue
		}

		if payload.Rank() == 2 && payload.LastAxisLen() == 0 {
			r.reportFatal(errors.ConfigError(fmt.Errorf("source %s: empty 2-D output on key %s", r.name, key), r.name))
			continue
		}

		delta := alignments[key]
		alignment := continuity.ChunkAlignment{
			IncludedPast:              delta.IncludedPast,
			DroppedAfterDiscontinuity: delta.DroppedAfterDiscontinuity,
			InvalidLargeScales:        delta.InvalidLargeScales,
			InvalidSmallScales:        delta.InvalidSmallScales,
			Alignable:                 !payload.IsEvent(),
			FSampling:                 delta.FSamplingOut,
		}

		number := r.numbers[key]
		r.numbers[key] = number + 1

		out := chunk.Chunk{
			Data:               payload,
			StartTime:          now,
			Fs:                 alignment.FSampling,
			Number:             number,
			Continuity:         data.Continuity,
			Alignment:          alignment,
			ProcessorName:      r.name,
			Sources:            map[string]struct{}{r.name: {}},
			Identifier:         data.Identifier,
			DataGenerationTime: map[string]time.Time{r.name: now},
			Metadata:           map[string]chunk.ChunkMeta{r.name: r.configMeta},
			InitialSampleTime:  now,
		}
		pub.Send(out)
	}
}

func (r *sourceRuntime) finalize() {
	if err := r.proc.Finalize(); err != nil {
		r.logger.Error("source finalize failed", "processor", r.name, "error", err)
	}
}

func (r *sourceRuntime) reportFatal(err error) {
	r.logger.Error("source failed", "processor", r.name, "error", err)
	kind := "fatal"
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Kind != "" {
		kind = string(ee.Kind)
	}
	select {
	case r.boardErr <- ErrorMessage{Kind: kind, Message: err.Error(), Processor: r.name}:
	case <-time.After(time.Second):
		r.logger.Error("board error channel full, error dropped", "processor", r.name)
	}
}

func (r *sourceRuntime) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}
