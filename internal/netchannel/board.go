package netchannel

import (
	"context"

	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/chunk"
	"github.com/soundmesh/soundmesh/internal/composite"
	"github.com/soundmesh/soundmesh/internal/continuity"
)

// SinkProcessor is a board.Processor that forwards one input key to a
// Server's current peer, reconstructing the per-key chunk.Chunk the local
// runtime would otherwise have delivered over an in-process channel: a
// network subscription order carries the same chunk as a local one.
type SinkProcessor struct {
	name   string
	key    string
	server *Server
}

// NewSinkProcessor wires key's composite input straight through to server.
func NewSinkProcessor(name, key string, server *Server) *SinkProcessor {
	return &SinkProcessor{name: name, key: key, server: server}
}

func (p *SinkProcessor) Name() string           { return p.name }
func (p *SinkProcessor) RequiredKeys() []string { return []string{p.key} }

func (p *SinkProcessor) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	return map[string]continuity.ProcessorAlignment{}, nil
}

func (p *SinkProcessor) Process(ctx context.Context, in *composite.Result) (map[string]chunk.Payload, error) {
	payload, ok := in.Inputs[p.key]
	if !ok {
		return nil, nil
	}
	alignment := in.AlignmentsOut[p.key]
	c := chunk.Chunk{
		Data:               payload,
		StartTime:          in.StartTime,
		Fs:                 alignment.FSampling,
		Number:             in.Number,
		Continuity:         in.Continuity,
		Alignment:          alignment,
		ProcessorName:      p.name,
		Sources:            chunk.WithSource(in.Sources, p.name),
		Identifier:         in.Identifier,
		DataGenerationTime: in.DataGenerationTime,
		Metadata:           in.Metadata,
		InitialSampleTime:  in.InitialSampleTime,
	}
	if _, err := p.server.Send(c); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *SinkProcessor) Finalize() error { return nil }

// SourceBridge is a board.SourceProcessor that replays chunks a Client
// receives from its peer as locally generated data, so downstream
// processors cannot distinguish a network link from a local producer.
type SourceBridge struct {
	name      string
	key       string
	client    *Client
	out       chan chunk.Chunk
	cancel    context.CancelFunc
	fsampling float64
}

// NewSourceBridge constructs a SourceBridge publishing decoded chunks under
// key. fsampling mirrors the alignment the remote producer advertised out
// of band (e.g. via configuration), since the wire format carries Fs on
// each chunk already and this is only used for Prerun's alignment report.
func NewSourceBridge(name, key string, client *Client, fsampling float64) *SourceBridge {
	return &SourceBridge{name: name, key: key, client: client, out: make(chan chunk.Chunk, 64), fsampling: fsampling}
}

func (b *SourceBridge) Name() string { return b.name }

func (b *SourceBridge) Prerun(ctx context.Context) (map[string]continuity.ProcessorAlignment, error) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go func() { _ = b.client.Run(runCtx, b.out) }()
	return map[string]continuity.ProcessorAlignment{
		b.key: {FSamplingOut: b.fsampling},
	}, nil
}

func (b *SourceBridge) Generate(ctx context.Context) (board.GeneratedData, bool, error) {
	select {
	case c, ok := <-b.out:
		if !ok {
			return board.GeneratedData{}, false, nil
		}
		return board.GeneratedData{
			Payloads:   map[string]chunk.Payload{b.key: c.Data},
			Continuity: c.Continuity,
			Identifier: c.Identifier,
		}, true, nil
	case <-ctx.Done():
		return board.GeneratedData{}, false, nil
	}
}

func (b *SourceBridge) Finalize() error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}
