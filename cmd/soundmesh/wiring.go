package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/soundmesh/soundmesh/internal/aggregate"
	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/conf"
	"github.com/soundmesh/soundmesh/internal/iosink"
	"github.com/soundmesh/soundmesh/internal/iosource"
	"github.com/soundmesh/soundmesh/internal/metrics"
	"github.com/soundmesh/soundmesh/internal/netchannel"
)

// startNetChannels starts a Server for every "server" endpoint and builds a
// Client for every "client" endpoint declared in the board's NetChannel
// configuration (a Client's Run loop is started by the SourceBridge that
// uses it), keyed by endpoint name for later lookup by
// netchannel_sink/netchannel_source processors.
func startNetChannels(ctx context.Context, endpoints []conf.NetChannelEndpoint, m *metrics.Registry) (map[string]*netchannel.Server, map[string]*netchannel.Client, error) {
	servers := make(map[string]*netchannel.Server)
	clients := make(map[string]*netchannel.Client)
	for _, ep := range endpoints {
		switch ep.Mode {
		case "server":
			srv := netchannel.NewServer(ep.Address, nil)
			srv.SetMetrics(m)
			servers[ep.Name] = srv
			go func() {
				if err := srv.Serve(ctx); err != nil {
					fmt.Fprintln(os.Stderr, "netchannel server", ep.Name, "exited:", err)
				}
			}()
		case "client":
			cli := netchannel.NewClient(ep.Address, nil)
			cli.SetMetrics(m)
			clients[ep.Name] = cli
		default:
			return nil, nil, fmt.Errorf("netchannel endpoint %q: unknown mode %q", ep.Name, ep.Mode)
		}
	}
	return servers, clients, nil
}

// wireBoard instantiates every processor named in settings.Board.Processors
// and starts it on b, translating each ProcessorConfig.Inputs entry
// ("producerName.senderKey@receiverKey") into a local SubscriptionOrder.
//
// oafilter, structure, and patch processors are not driven by this generic
// registry: their Kernel/Quantiser dependencies are concrete DSP
// implementations with no config-serializable form, so a deployment wires
// them in its own Go main and a wiring config names them only as
// inputs/outputs.
func wireBoard(ctx context.Context, b *board.Board, settings *conf.Settings, m *metrics.Registry) error {
	servers, clients, err := startNetChannels(ctx, settings.NetChannel.Endpoints, m)
	if err != nil {
		return err
	}

	for _, pc := range settings.Board.Processors {
		orders, err := parseInputs(pc)
		if err != nil {
			return fmt.Errorf("processor %q: %w", pc.Name, err)
		}

		switch pc.Kind {
		case "wav_source":
			src := iosource.NewWAVSource(pc.Name, stringParam(pc.Params, "path", ""), intParam(pc.Params, "chunk_size", 4096), ditherParam(pc.Params))
			if err := b.StartSource(pc.Name, src, pc.Params, orders...); err != nil {
				return err
			}
		case "sine_source", "noise_source":
			kind := iosource.SignalSine
			if pc.Kind == "noise_source" {
				kind = iosource.SignalNoise
			}
			src := iosource.NewSignalSource(pc.Name, kind,
				floatParam(pc.Params, "fsampling", 48000),
				floatParam(pc.Params, "frequency", 440),
				floatParam(pc.Params, "amplitude", 1.0),
				intParam(pc.Params, "chunk_size", 4096),
				int64(intParam(pc.Params, "max_chunks", 0)))
			if err := b.StartSource(pc.Name, src, pc.Params, orders...); err != nil {
				return err
			}
		case "hdf_source":
			src := iosource.NewHDFSource(pc.Name, stringParam(pc.Params, "path", ""), intParam(pc.Params, "chunk_size", 4096))
			if err := b.StartSource(pc.Name, src, pc.Params, orders...); err != nil {
				return err
			}
		case "hdf_writer":
			cfg := iosink.Config{
				BaseDir:     stringParam(pc.Params, "base_dir", "."),
				Location:    stringParam(pc.Params, "location", pc.Name),
				MaxFileSize: int64(intParam(pc.Params, "max_file_size", 100<<20)),
			}
			w := iosink.NewHDFWriter(pc.Name, cfg, pc.Inputs)
			if err := b.StartProcessor(pc.Name, w, pc.Params, orders...); err != nil {
				return err
			}
		case "image_sink":
			cfg := iosink.ImageConfig{
				OutDir:   stringParam(pc.Params, "out_dir", "."),
				Location: stringParam(pc.Params, "location", pc.Name),
			}
			sink := iosink.NewImageSink(pc.Name, cfg, pc.Inputs)
			if err := b.StartProcessor(pc.Name, sink, pc.Params, orders...); err != nil {
				return err
			}
		case "aggregate":
			cfg := aggregate.Config{
				BlockWidth:  intParam(pc.Params, "block_width", 100),
				SplitPoints: intSliceParam(pc.Params, "split_points"),
				Threshold:   floatParam(pc.Params, "threshold", 0.5),
				Slope:       floatParam(pc.Params, "slope", 4.0),
				LogCompress: boolParam(pc.Params, "log_compress", true),
				Reference:   floatParam(pc.Params, "reference", 0.0),
			}
			proc := aggregate.NewProcessor(pc.Name, cfg)
			if err := b.StartProcessor(pc.Name, proc, pc.Params, orders...); err != nil {
				return err
			}
		case "netchannel_sink":
			endpoint := stringParam(pc.Params, "endpoint", "")
			srv, ok := servers[endpoint]
			if !ok {
				return fmt.Errorf("processor %q: no server netchannel endpoint %q", pc.Name, endpoint)
			}
			if len(orders) != 1 {
				return fmt.Errorf("processor %q: netchannel_sink takes exactly one input", pc.Name)
			}
			key := orders[0].ReceiverKey
			proc := netchannel.NewSinkProcessor(pc.Name, key, srv)
			if err := b.StartProcessor(pc.Name, proc, pc.Params, orders...); err != nil {
				return err
			}
		case "netchannel_source":
			endpoint := stringParam(pc.Params, "endpoint", "")
			cli, ok := clients[endpoint]
			if !ok {
				return fmt.Errorf("processor %q: no client netchannel endpoint %q", pc.Name, endpoint)
			}
			key := stringParam(pc.Params, "key", pc.Name)
			fs := floatParam(pc.Params, "fsampling", 0)
			src := netchannel.NewSourceBridge(pc.Name, key, cli, fs)
			if err := b.StartSource(pc.Name, src, pc.Params, orders...); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown processor kind %q (oafilter/structure/patch processors are wired via their own per-filter constructors, not this generic registry)", pc.Kind)
		}
	}
	return nil
}

// parseInputs turns ProcessorConfig.Inputs entries of the form
// "producer.senderKey@receiverKey" into local SubscriptionOrders
// connecting pc as the Consumer.
func parseInputs(pc conf.ProcessorConfig) ([]board.SubscriptionOrder, error) {
	orders := make([]board.SubscriptionOrder, 0, len(pc.Inputs))
	for _, spec := range pc.Inputs {
		atIdx := strings.LastIndex(spec, "@")
		if atIdx < 0 {
			return nil, fmt.Errorf("input %q: expected producer.senderKey@receiverKey", spec)
		}
		left, receiverKey := spec[:atIdx], spec[atIdx+1:]
		dotIdx := strings.LastIndex(left, ".")
		if dotIdx < 0 {
			return nil, fmt.Errorf("input %q: expected producer.senderKey@receiverKey", spec)
		}
		producer, senderKey := left[:dotIdx], left[dotIdx+1:]
		orders = append(orders, board.SubscriptionOrder{
			Producer:    producer,
			Consumer:    pc.Name,
			SenderKey:   senderKey,
			ReceiverKey: receiverKey,
		})
	}
	return orders, nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func intSliceParam(params map[string]any, key string) []int {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int:
			out = append(out, n)
		case float64:
			out = append(out, int(n))
		}
	}
	return out
}

func ditherParam(params map[string]any) iosource.DitherKind {
	switch stringParam(params, "dither", "none") {
	case "uniform":
		return iosource.DitherUniform
	case "binomial":
		return iosource.DitherBinomial
	default:
		return iosource.DitherNone
	}
}
