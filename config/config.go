// Package config resolves a user-facing YAML settings file into a
// concrete sonicore.Options, the way engine/spec.Resolve turns session
// preferences into an avaudio AudioSpec.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaban/sonicore"
)

// File is the on-disk shape of config.yaml. Zero fields fall back to
// Resolve's defaults rather than zero values, mirroring the "apply
// sensible defaults when fields are unset" rule the teacher's Resolve
// function follows.
type File struct {
	SampleRate    float64  `yaml:"sampleRate"`
	BlockSize     int      `yaml:"blockSize"`
	MaxNumNodes   int      `yaml:"maxNumNodes"`
	MaxAudioBuses int      `yaml:"maxAudioBuses"`
	Inputs        int      `yaml:"inputs"`
	Outputs       int      `yaml:"outputs"`
	PluginPaths   []string `yaml:"pluginPaths"`
	RTArenaSize   int      `yaml:"rtArenaSize"`
	NRTArenaSize  int      `yaml:"nrtArenaSize"`
	QueueCapacity int      `yaml:"queueCapacity"`
}

// Load reads and parses path, then Resolves it into sonicore.Options.
func Load(path string) (sonicore.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sonicore.Options{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return sonicore.Options{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return Resolve(f), nil
}

// Resolve converts a parsed File into sonicore.Options, applying the same
// defaults a fresh install's config.yaml would need to spell out
// explicitly: 48kHz, a 256-frame block, stereo in and out.
func Resolve(f File) sonicore.Options {
	sampleRate := f.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	blockSize := f.BlockSize
	if blockSize <= 0 {
		blockSize = 256
	}
	maxNumNodes := f.MaxNumNodes
	if maxNumNodes <= 0 {
		maxNumNodes = 1024
	}
	maxAudioBuses := f.MaxAudioBuses
	if maxAudioBuses <= 0 {
		maxAudioBuses = 32
	}
	inputs := f.Inputs
	if inputs <= 0 {
		inputs = 2
	}
	outputs := f.Outputs
	if outputs <= 0 {
		outputs = 2
	}

	return sonicore.Options{
		SampleRate:    sampleRate,
		BlockSize:     blockSize,
		MaxNumNodes:   maxNumNodes,
		MaxAudioBuses: maxAudioBuses,
		HWIn:          inputs,
		HWOut:         outputs,
		PluginPaths:   f.PluginPaths,
		RTArenaSize:   f.RTArenaSize,
		NRTArenaSize:  f.NRTArenaSize,
		QueueCapacity: f.QueueCapacity,
	}
}
