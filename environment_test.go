package sonicore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaban/sonicore/abi"
	"github.com/shaban/sonicore/dispatcher"
	"github.com/shaban/sonicore/request"
)

func testOptions() Options {
	return Options{
		SampleRate:    44100,
		BlockSize:     64,
		MaxNumNodes:   1024,
		MaxAudioBuses: 16,
		HWIn:          2,
		HWOut:         2,
		RTArenaSize:   1 << 16,
		NRTArenaSize:  1 << 16,
		QueueCapacity: 64,
	}
}

func newRunningEnv(t *testing.T) *Environment {
	t.Helper()
	env, err := NewEnvironment(testOptions())
	require.NoError(t, err, "new environment")
	require.NoError(t, env.Configure(StaticDriver{SR: 44100, Inputs: 2, Outputs: 2, Buffer: 64}), "configure")
	require.NoError(t, env.Start(), "start")
	t.Cleanup(func() { _ = env.Stop() })
	return env
}

// submitAndWait submits body and keeps calling Process (simulating the
// driver's callback) until the dispatcher delivers a response, the way a
// real caller would alternate request submission with the RT thread's
// own block-driven drain.
func submitAndWait(t *testing.T, env *Environment, body request.Body) dispatcher.Response {
	t.Helper()
	msg := request.NewMessage(1, body)
	respCh, err := env.Submit(msg)
	require.NoError(t, err, "submit")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = env.Process(64, blockBuffers(2, 64), blockBuffers(2, 64))
		select {
		case resp := <-respCh:
			return resp
		default:
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for response")
	return dispatcher.Response{}
}

func blockBuffers(n, size int) [][]float32 {
	bufs := make([][]float32, n)
	for i := range bufs {
		bufs[i] = make([]float32, size)
	}
	return bufs
}

func TestBootScenario(t *testing.T) {
	env, err := NewEnvironment(testOptions())
	require.NoError(t, err, "new environment")
	require.EqualValues(t, 0, env.RootId(), "root id")
	require.Equal(t, 1, env.table.Len(), "want exactly the root node present")
	require.Equal(t, 2, env.buses.NumExternalInputs())
	require.Equal(t, 2, env.buses.NumExternalOutputs())
	require.EqualValues(t, 0, env.Epoch(), "epoch before any process call")
}

func TestSilentPassScenario(t *testing.T) {
	env, err := NewEnvironment(testOptions())
	require.NoError(t, err, "new environment")
	outs := blockBuffers(2, 64)
	require.NoError(t, env.Process(64, blockBuffers(2, 64), outs))
	for _, buf := range outs {
		for _, s := range buf {
			require.Equal(t, float32(0), s, "expected silence")
		}
	}
	require.EqualValues(t, 1, env.Epoch(), "epoch after one process call")
}

type sineState struct {
	out []float32
}

func sineDef() *abi.SynthDef {
	return &abi.SynthDef{
		URI:          "test:sine",
		InstanceSize: 1,
		Alignment:    1,
		Configure:    func(opts []byte) (any, error) { return nil, nil },
		PortDescriptor: func(options any, index int) (abi.PortDescriptor, bool) {
			if index == 0 {
				return abi.PortDescriptor{Direction: abi.Output, Type: abi.AudioPort}, true
			}
			return abi.PortDescriptor{}, false
		},
		Construct: func(world *abi.World, options any) (abi.Synth, error) { return &sineState{}, nil },
		Connect: func(synth abi.Synth, index int, data any) {
			s := synth.(*sineState)
			if buf, ok := data.([]float32); ok {
				s.out = buf
			}
		},
		Activate: func(world *abi.World, synth abi.Synth) {},
		Process: func(world *abi.World, synth abi.Synth, numFrames int) {
			s := synth.(*sineState)
			for i := 0; i < numFrames && i < len(s.out); i++ {
				s.out[i] += 0.5
			}
		},
		Destroy: func(world *abi.World, synth abi.Synth) {},
	}
}

func TestSynthOnOutputScenario(t *testing.T) {
	env := newRunningEnv(t)
	require.NoError(t, env.PluginManager().RegisterSynthDef(sineDef()), "register")

	resp := submitAndWait(t, env, request.Synth{Target: uint32(env.RootId()), Placement: request.AddToHead, Plugin: "test:sine"})
	require.NoError(t, resp.Err, "create synth")

	// Bus IDs are flat: inputs first, so output bus 0 is HWIn + 0.
	mapResp := submitAndWait(t, env, request.MapPort{Target: uint32(resp.NodeId), Index: 0, Bus: env.buses.NumExternalInputs()})
	require.NoError(t, mapResp.Err, "map port")

	outs := blockBuffers(2, 64)
	require.NoError(t, env.Process(64, blockBuffers(2, 64), outs))
	for i, s := range outs[0] {
		require.Equal(t, float32(0.5), s, "out0[%d]", i)
	}
	for i, s := range outs[1] {
		require.Equal(t, float32(0), s, "out1[%d]", i)
	}
}

func TestUnknownPluginScenario(t *testing.T) {
	env := newRunningEnv(t)
	resp := submitAndWait(t, env, request.Synth{Target: uint32(env.RootId()), Placement: request.AddToHead, Plugin: "missing"})
	require.Error(t, resp.Err, "expected unknown plugin error")
	require.Equal(t, 1, env.table.Len(), "no node should have been created for an unknown plugin")
}

func TestStructuralReorderScenario(t *testing.T) {
	env := newRunningEnv(t)
	_ = env.PluginManager().RegisterSynthDef(sineDef())

	s1 := submitAndWait(t, env, request.Synth{Target: uint32(env.RootId()), Placement: request.AddToHead, Plugin: "test:sine"})
	require.NoError(t, s1.Err, "create s1")
	s2 := submitAndWait(t, env, request.Synth{Target: uint32(env.RootId()), Placement: request.AddToTail, Plugin: "test:sine"})
	require.NoError(t, s2.Err, "create s2")

	free := submitAndWait(t, env, request.Free{Target: uint32(s1.NodeId)})
	require.NoError(t, free.Err, "free s1")

	_, err := env.table.Lookup(s1.NodeId)
	require.Error(t, err, "expected s1 to be vacant after free")
	_, err = env.table.Lookup(s2.NodeId)
	require.NoError(t, err, "expected s2 to still resolve")
}

func TestQueueOverflowScenario(t *testing.T) {
	opts := testOptions()
	opts.QueueCapacity = 4
	env, err := NewEnvironment(opts)
	require.NoError(t, err, "new environment")
	require.NoError(t, env.Configure(StaticDriver{SR: 44100, Inputs: 2, Outputs: 2, Buffer: 64}), "configure")
	require.NoError(t, env.Start(), "start")
	defer env.Stop()

	var sawFull bool
	for i := 0; i < opts.QueueCapacity*8; i++ {
		if _, err := env.Submit(request.NewMessage(1, request.Free{Target: uint32(env.RootId())})); err != nil {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("expected queue overflow to surface eventually")
	}
}
