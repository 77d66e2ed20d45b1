package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	Reset()
	require.Equal(t, 3, Get(KeyVideoBufferPackets))
	require.Equal(t, 32, Get(KeyAudioBufferPackets))
	require.Equal(t, 32, Get(KeySubtitleBufferPackets))
	require.Equal(t, 0, Get(KeyThreadCount))
	require.Equal(t, int64(0), GetInt64(KeyProbeSize))
}

func TestSetClampsToValidRange(t *testing.T) {
	Reset()
	defer Reset()

	Set(KeyAudioBufferPackets, 0)
	require.Equal(t, 1, Get(KeyAudioBufferPackets), "buffer capacities clamp to >= 1")

	Set(KeyThreadCount, -4)
	require.Equal(t, 0, Get(KeyThreadCount))

	Set(KeyFontHinting, 99)
	require.Equal(t, 3, Get(KeyFontHinting))

	Set(KeyVideoBufferFrames, 16)
	require.Equal(t, 16, Get(KeyVideoBufferFrames))
}

func TestUnknownKeyIgnored(t *testing.T) {
	Reset()
	defer Reset()

	Set("no-such-hint", 7)
	require.Equal(t, 0, Get("no-such-hint"))
}

func TestEnvOverride(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("REFRACT_SUBTITLE_BUFFER_PACKETS", "48")
	require.Equal(t, 48, Get(KeySubtitleBufferPackets))
}
