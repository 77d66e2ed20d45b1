// Package config holds the process-wide tuning hints read at source and
// player construction. Hints are backed by a viper instance so defaults,
// programmatic overrides, and REFRACT_* environment variables resolve
// through one path.
package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Hint keys. These are also the environment variable names after the
// REFRACT_ prefix and dash-to-underscore mapping, e.g.
// REFRACT_AUDIO_BUFFER_PACKETS.
const (
	KeyFontHinting           = "font-hinting"
	KeyThreadCount           = "thread-count"
	KeyVideoBufferPackets    = "video-buffer-packets"
	KeyAudioBufferPackets    = "audio-buffer-packets"
	KeySubtitleBufferPackets = "subtitle-buffer-packets"
	KeyVideoBufferFrames     = "video-buffer-frames"
	KeyAudioBufferFrames     = "audio-buffer-frames"
	KeySubtitleBufferFrames  = "subtitle-buffer-frames"
	KeyProbeSize             = "probe-size"
	KeyAnalyzeDuration       = "analyze-duration"
)

var (
	mu sync.RWMutex
	v  *viper.Viper
)

func init() {
	v = newViper()
}

func newViper() *viper.Viper {
	nv := viper.New()
	nv.SetEnvPrefix("REFRACT")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	nv.AutomaticEnv()

	nv.SetDefault(KeyFontHinting, 0)
	nv.SetDefault(KeyThreadCount, 0)
	nv.SetDefault(KeyVideoBufferPackets, 3)
	nv.SetDefault(KeyAudioBufferPackets, 32)
	nv.SetDefault(KeySubtitleBufferPackets, 32)
	nv.SetDefault(KeyVideoBufferFrames, 3)
	nv.SetDefault(KeyAudioBufferFrames, 32)
	nv.SetDefault(KeySubtitleBufferFrames, 32)
	nv.SetDefault(KeyProbeSize, 0)
	nv.SetDefault(KeyAnalyzeDuration, 0)
	return nv
}

// clamp bounds a hint to its valid range.
func clamp(key string, value int) int {
	switch key {
	case KeyThreadCount, KeyProbeSize, KeyAnalyzeDuration:
		return max(value, 0)
	case KeyFontHinting:
		return min(max(value, 0), 3)
	default: // buffer capacities
		return max(value, 1)
	}
}

// Set stores a hint value, clamped to its valid range. Unknown keys are
// ignored.
func Set(key string, value int) {
	switch key {
	case KeyFontHinting, KeyThreadCount,
		KeyVideoBufferPackets, KeyAudioBufferPackets, KeySubtitleBufferPackets,
		KeyVideoBufferFrames, KeyAudioBufferFrames, KeySubtitleBufferFrames,
		KeyProbeSize, KeyAnalyzeDuration:
	default:
		return
	}
	mu.Lock()
	defer mu.Unlock()
	v.Set(key, clamp(key, value))
}

// Get returns the resolved hint value, clamped. Unknown keys return 0.
func Get(key string) int {
	mu.RLock()
	defer mu.RUnlock()
	if !v.IsSet(key) {
		return 0
	}
	return clamp(key, v.GetInt(key))
}

// GetInt64 returns a hint as int64, for the byte/microsecond hints.
func GetInt64(key string) int64 {
	mu.RLock()
	defer mu.RUnlock()
	if !v.IsSet(key) {
		return 0
	}
	n := v.GetInt64(key)
	if n < 0 {
		return 0
	}
	return n
}

// Reset restores every hint to its default. Used by Quit and tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	v = newViper()
}
