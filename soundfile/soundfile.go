// Package soundfile defines the host-provided sound-file decoding
// collaborator (spec §6, Methcla_Host.soundFileAPI): an interface keyed
// by MIME type so a plugin can ask the host to open a file without the
// engine core depending on any particular decoder. Decoding itself is
// out of scope (spec §1 Non-goals) — this package is the seam a real
// decoder plugs into.
package soundfile

import (
	"errors"
	"io"
)

// Mode selects how a file is opened.
type Mode int

const (
	Read Mode = iota
	Write
)

// FileError enumerates the ways opening or reading a sound file can fail,
// mirroring Methcla_FileError (spec §7 FileError sub-kinds).
type FileError int

const (
	ErrNone FileError = iota
	ErrUnsupportedFileType
	ErrInvalidFile
	ErrUnsupportedDataFormat
	ErrInvalidPath
)

func (e FileError) Error() string {
	switch e {
	case ErrUnsupportedFileType:
		return "soundfile: unsupported file type"
	case ErrInvalidFile:
		return "soundfile: invalid file"
	case ErrUnsupportedDataFormat:
		return "soundfile: unsupported data format"
	case ErrInvalidPath:
		return "soundfile: invalid path"
	default:
		return "soundfile: no error"
	}
}

// ErrNoDecoderForMimeType is returned by Registry.Lookup when no API is
// registered for a requested MIME type.
var ErrNoDecoderForMimeType = errors.New("soundfile: no decoder for mime type")

// Info describes a sound file's format, independent of its contents.
type Info struct {
	SampleRate float64
	Channels   int
	Frames     int64
}

// File is an open sound file handle. Read fills buf (interleaved,
// channel-major) and returns the number of frames read.
type File interface {
	io.Closer
	Info() Info
	Read(buf []float32) (frames int, err error)
	Write(buf []float32) (frames int, err error)
}

// API opens sound files for one MIME type (spec §6, methcla_host_soundfile_open).
type API interface {
	Open(path string, mode Mode) (File, error)
}

// Registry maps a MIME type to the API that decodes it. abi.Host.SoundFileAPI
// is backed by a Registry in a real engine.
type Registry struct {
	apis map[string]API
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{apis: make(map[string]API)}
}

// Register associates mimeType with api, replacing any prior registration.
func (r *Registry) Register(mimeType string, api API) {
	r.apis[mimeType] = api
}

// Lookup returns the API registered for mimeType, or
// ErrNoDecoderForMimeType if none is registered.
func (r *Registry) Lookup(mimeType string) (API, error) {
	api, ok := r.apis[mimeType]
	if !ok {
		return nil, ErrNoDecoderForMimeType
	}
	return api, nil
}

// HostFunc adapts a Registry into the abi.Host.SoundFileAPI function
// value (any avoids an import cycle between abi and soundfile; callers
// type-assert back to API).
func (r *Registry) HostFunc() func(mimeType string) any {
	return func(mimeType string) any {
		api, err := r.Lookup(mimeType)
		if err != nil {
			return nil
		}
		return api
	}
}
