// Package refract is a pull-based audio/video playback engine. It demuxes
// one source into per-stream packet queues, decodes each selected stream
// on its own worker goroutine, and releases audio samples, video frames,
// and subtitle surfaces to the caller on demand, paced by a shared
// presentation clock. The heavy lifting of container parsing, codec
// decoding, format conversion, and script-subtitle typesetting is
// delegated to a caller-registered av.Backend; refract owns the
// concurrent pipeline between that backend and the caller's audio device
// and renderer.
package refract

import (
	"sync"

	"github.com/zsiec/refract/av"
	"github.com/zsiec/refract/internal/config"
)

// Library version.
const (
	VersionMajor = 2
	VersionMinor = 0
	VersionPatch = 0
)

// Version returns the library version triple.
func Version() (major, minor, patch int) {
	return VersionMajor, VersionMinor, VersionPatch
}

// InitFlags select optional subsystems at Init.
type InitFlags uint

// Init flags.
const (
	// InitNetwork enables the backend's network protocol support.
	InitNetwork InitFlags = 1 << iota

	// InitScriptSubtitles enables SSA/ASS rendering through the
	// backend's typesetter.
	InitScriptSubtitles

	// InitHardwareDecode lets players honor hardware device preferences
	// in video format requests.
	InitHardwareDecode
)

// libState is the process-wide library singleton: init flags and the
// registered backend. Configuration hints live in internal/config.
type libState struct {
	mu          sync.Mutex
	flags       InitFlags
	backend     av.Backend
	initialized bool
}

var state libState

// Init registers the media backend and enables the flagged subsystems.
// It must be called once before any source is created; calling it again
// without Quit is an error.
func Init(flags InitFlags, backend av.Backend) error {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.initialized {
		return ErrAlreadyInitialized
	}
	if backend == nil {
		return setupErr("backend", ErrNotInitialized)
	}
	if flags&InitNetwork != 0 {
		if err := backend.NetworkInit(); err != nil {
			return setupErr("network", err)
		}
	}
	state.flags = flags
	state.backend = backend
	state.initialized = true
	return nil
}

// Quit tears down the library: network support is released, hints reset
// to defaults. Sources and players must be closed first.
func Quit() {
	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.initialized {
		return
	}
	if state.flags&InitNetwork != 0 {
		state.backend.NetworkDeinit()
	}
	state.flags = 0
	state.backend = nil
	state.initialized = false
	config.Reset()
}

// backendHandle returns the registered backend, or an error before Init.
func backendHandle() (av.Backend, InitFlags, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.initialized {
		return nil, 0, ErrNotInitialized
	}
	return state.backend, state.flags, nil
}

// Hint keys, re-exported so callers do not import internal packages.
const (
	HintFontHinting           = config.KeyFontHinting
	HintThreadCount           = config.KeyThreadCount
	HintVideoBufferPackets    = config.KeyVideoBufferPackets
	HintAudioBufferPackets    = config.KeyAudioBufferPackets
	HintSubtitleBufferPackets = config.KeySubtitleBufferPackets
	HintVideoBufferFrames     = config.KeyVideoBufferFrames
	HintAudioBufferFrames     = config.KeyAudioBufferFrames
	HintSubtitleBufferFrames  = config.KeySubtitleBufferFrames
	HintProbeSize             = config.KeyProbeSize
	HintAnalyzeDuration       = config.KeyAnalyzeDuration
)

// SetHint stores a process-wide tuning hint. Hints are read when sources
// and players are constructed; changing one does not affect live
// pipelines. Values are clamped to their valid ranges.
func SetHint(key string, value int) {
	config.Set(key, value)
}

// Hint returns the resolved value of a tuning hint.
func Hint(key string) int {
	return config.Get(key)
}
