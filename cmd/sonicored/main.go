// Command sonicored is a demo host: it loads a YAML config, wires a
// synthetic silence-generating Driver, registers a tiny in-process test
// synth definition, and runs the process loop for a fixed duration —
// the teacher's examples/engine_demo/main.go shape, restaged against the
// sonicore core instead of AVAudioEngine.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/shaban/sonicore"
	"github.com/shaban/sonicore/abi"
	"github.com/shaban/sonicore/config"
	"github.com/shaban/sonicore/request"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to config.yaml.")
	blockSizeOverride := pflag.IntP("block-size", "b", 0, "Override the configured block size (0 = use config).")
	sampleRateOverride := pflag.Float64P("sample-rate", "r", 0, "Override the configured sample rate (0 = use config).")
	duration := pflag.DurationP("duration", "d", 2*time.Second, "How long to run the synthetic process loop.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sonicored - demo host for the sonicore audio processing runtime.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: sonicored [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.Default()

	opts, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("could not load config, falling back to built-in defaults", "path", *configPath, "err", err)
		opts = config.Resolve(config.File{})
	}
	if *blockSizeOverride > 0 {
		opts.BlockSize = *blockSizeOverride
	}
	if *sampleRateOverride > 0 {
		opts.SampleRate = *sampleRateOverride
	}
	opts.Logger = logger

	env, err := sonicore.NewEnvironment(opts)
	if err != nil {
		logger.Fatal("constructing environment failed", "err", err)
	}

	if err := env.PluginManager().RegisterSynthDef(toneSynthDef()); err != nil {
		logger.Fatal("registering demo synth failed", "err", err)
	}

	driver := sonicore.StaticDriver{
		SR:      opts.SampleRate,
		Inputs:  opts.HWIn,
		Outputs: opts.HWOut,
		Buffer:  opts.BlockSize,
	}
	if err := env.Configure(driver); err != nil {
		logger.Fatal("configure failed", "err", err)
	}
	if err := env.Start(); err != nil {
		logger.Fatal("start failed", "err", err)
	}
	defer func() {
		if err := env.Stop(); err != nil {
			logger.Error("stop failed", "err", err)
		}
	}()

	logger.Info("environment configured",
		"sampleRate", opts.SampleRate, "blockSize", opts.BlockSize,
		"hwIn", opts.HWIn, "hwOut", opts.HWOut)

	respCh, err := env.Submit(request.NewMessage(1, request.Synth{
		Target:    uint32(env.RootId()),
		Placement: request.AddToHead,
		Plugin:    "sonicored:tone",
	}))
	if err != nil {
		logger.Fatal("submitting CreateSynth failed", "err", err)
	}

	inputs := blockBuffers(opts.HWIn, opts.BlockSize)
	outputs := blockBuffers(opts.HWOut, opts.BlockSize)

	var synthId uint32
	deadline := time.Now().Add(*duration)
	blockPeriod := time.Duration(float64(opts.BlockSize) / opts.SampleRate * float64(time.Second))

	for time.Now().Before(deadline) {
		if err := env.Process(opts.BlockSize, inputs, outputs); err != nil {
			logger.Error("process failed", "err", err)
			break
		}

		select {
		case resp := <-respCh:
			if resp.Err != nil {
				logger.Fatal("create synth failed", "err", resp.Err)
			}
			synthId = uint32(resp.NodeId)
			logger.Info("synth created", "nodeId", synthId)

			mapResp, err := env.Submit(request.NewMessage(2, request.MapPort{Target: synthId, Index: 0, Bus: opts.HWIn}))
			if err != nil {
				logger.Fatal("submitting MapPort failed", "err", err)
			}
			respCh = mapResp
		default:
		}

		if opts.HWOut > 0 {
			logger.Debug("block processed", "epoch", env.Epoch(), "out0[0]", outputs[0][0])
		}
		time.Sleep(blockPeriod)
	}

	logger.Info("demo run complete", "epoch", env.Epoch())
}

func blockBuffers(n, size int) [][]float32 {
	bufs := make([][]float32, n)
	for i := range bufs {
		bufs[i] = make([]float32, size)
	}
	return bufs
}

// toneState is the plugin-private instance storage for the demo synth; the
// engine never interprets it, only the functions below do.
type toneState struct {
	phase float32
	freq  float32
	out   []float32
}

// toneSynthDef builds a minimal SynthDef producing a constant-amplitude
// tone on its single audio output port, registered in-process rather than
// loaded from a .so plugin object — useful as a smoke test for a host that
// has no real plugin directory configured yet.
func toneSynthDef() *abi.SynthDef {
	return &abi.SynthDef{
		URI:          "sonicored:tone",
		InstanceSize: 1,
		Alignment:    1,
		Configure: func(opts []byte) (any, error) {
			return nil, nil
		},
		PortDescriptor: func(options any, index int) (abi.PortDescriptor, bool) {
			if index == 0 {
				return abi.PortDescriptor{Direction: abi.Output, Type: abi.AudioPort}, true
			}
			return abi.PortDescriptor{}, false
		},
		Construct: func(world *abi.World, options any) (abi.Synth, error) {
			return &toneState{freq: 0.05}, nil
		},
		Connect: func(synth abi.Synth, index int, data any) {
			s := synth.(*toneState)
			if buf, ok := data.([]float32); ok {
				s.out = buf
			}
		},
		Activate: func(world *abi.World, synth abi.Synth) {},
		Process: func(world *abi.World, synth abi.Synth, numFrames int) {
			s := synth.(*toneState)
			for i := 0; i < numFrames && i < len(s.out); i++ {
				s.out[i] += s.phase
				s.phase += s.freq
				if s.phase > 1 {
					s.phase -= 2
				}
			}
		},
		Destroy: func(world *abi.World, synth abi.Synth) {},
	}
}
