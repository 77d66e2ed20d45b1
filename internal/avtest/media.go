package avtest

import (
	"encoding/json"
	"strconv"

	"github.com/zsiec/refract/av"
)

// All avtest media use a millisecond time base.
var timeBase = av.Rational{Num: 1, Den: 1000}

// Audio schedule constants: 8 kHz mono s16, one packet per frame.
const (
	AudioSampleRate = 8000
	AudioChannels   = 1
	audioPacketMs   = 1000 * SamplesPerPacket / AudioSampleRate
)

// Video schedule constants.
const (
	VideoWidth   = 320
	VideoHeight  = 240
	videoFrameMs = 40
)

// AudioMedia builds a single-stream audio container of the given
// duration.
func AudioMedia(durationSec float64) *Media {
	m := &Media{
		DurationSec: durationSec,
		Streams: []av.StreamInfo{{
			Index:        0,
			Kind:         av.KindAudio,
			Codec:        av.CodecOther,
			CodecName:    "pcmtest",
			TimeBase:     timeBase,
			SampleRate:   AudioSampleRate,
			Channels:     AudioChannels,
			SampleFormat: av.SampleS16,
		}},
	}
	appendAudioPackets(m, 0, durationSec)
	return m
}

// AVMedia builds a container with one video and one audio stream.
func AVMedia(durationSec float64) *Media {
	m := &Media{
		DurationSec: durationSec,
		Streams: []av.StreamInfo{
			{
				Index:             0,
				Kind:              av.KindVideo,
				Codec:             av.CodecOther,
				CodecName:         "rawtest",
				TimeBase:          timeBase,
				Width:             VideoWidth,
				Height:            VideoHeight,
				SampleAspectRatio: av.Rational{Num: 1, Den: 1},
			},
			{
				Index:        1,
				Kind:         av.KindAudio,
				Codec:        av.CodecOther,
				CodecName:    "pcmtest",
				TimeBase:     timeBase,
				SampleRate:   AudioSampleRate,
				Channels:     AudioChannels,
				SampleFormat: av.SampleS16,
			},
		},
	}
	for ms := int64(0); float64(ms) < durationSec*1000; ms += videoFrameMs {
		m.Packets = append(m.Packets, av.Packet{
			StreamIndex: 0,
			Data:        []byte{0},
			PTS:         ms,
			DTS:         ms,
		})
	}
	appendAudioPackets(m, 1, durationSec)
	return m
}

func appendAudioPackets(m *Media, streamIndex int, durationSec float64) {
	for ms := int64(0); float64(ms) < durationSec*1000; ms += audioPacketMs {
		m.Packets = append(m.Packets, av.Packet{
			StreamIndex: streamIndex,
			Data:        []byte{0},
			PTS:         ms,
			DTS:         ms,
		})
	}
}

// SubtitleEvent is one scripted subtitle: a display window plus either
// bitmap regions or a script line.
type SubtitleEvent struct {
	StartSec float64
	EndSec   float64 // negative for sticky events

	// Bitmap placement, used by AddBitmapSubtitles.
	X, Y, W, H int

	// Extra adds further regions beyond the primary placement, for
	// multi-region bitmap events (one codec rect each).
	Extra []BitmapRect

	// Text for script events.
	Text string
}

// BitmapRect is one additional region of a bitmap subtitle event.
type BitmapRect struct {
	X, Y, W, H int
}

// AddBitmapSubtitles appends a bitmap subtitle stream carrying the
// events and returns its stream index.
func AddBitmapSubtitles(m *Media, events []SubtitleEvent) int {
	index := len(m.Streams)
	m.Streams = append(m.Streams, av.StreamInfo{
		Index:     index,
		Kind:      av.KindSubtitle,
		Codec:     av.CodecDVDSubtitle,
		CodecName: "dvdsub-test",
		TimeBase:  timeBase,
	})
	for _, ev := range events {
		endMs := int64(-1)
		if ev.EndSec >= 0 {
			endMs = int64((ev.EndSec - ev.StartSec) * 1000)
		}
		regions := append([]BitmapRect{{X: ev.X, Y: ev.Y, W: ev.W, H: ev.H}}, ev.Extra...)
		sub := av.Subtitle{
			PTS:            int64(ev.StartSec * 1000),
			StartDisplayMs: 0,
			EndDisplayMs:   endMs,
		}
		for _, r := range regions {
			sub.Rects = append(sub.Rects, bitmapRect(r))
		}
		payload, _ := json.Marshal(&sub)
		m.Packets = append(m.Packets, av.Packet{
			StreamIndex: index,
			Data:        payload,
			PTS:         sub.PTS,
			DTS:         sub.PTS,
		})
	}
	return index
}

// bitmapRect builds one fully lit paletted rect for a region.
func bitmapRect(r BitmapRect) av.SubtitleRect {
	w, h := r.W, r.H
	if w == 0 {
		w = 40
	}
	if h == 0 {
		h = 16
	}
	pixels := make([]byte, w*h)
	for i := range pixels {
		pixels[i] = 1
	}
	return av.SubtitleRect{
		X:       r.X,
		Y:       r.Y,
		W:       w,
		H:       h,
		Pixels:  pixels,
		Stride:  w,
		Palette: []uint32{0x00000000, 0xffffffff},
	}
}

// AddScriptSubtitles appends an ASS subtitle stream carrying the events
// and returns its stream index. Event text travels in the typesetter's
// "startMs|endMs|text" line format.
func AddScriptSubtitles(m *Media, header []byte, events []SubtitleEvent) int {
	index := len(m.Streams)
	m.Streams = append(m.Streams, av.StreamInfo{
		Index:        index,
		Kind:         av.KindSubtitle,
		Codec:        av.CodecASS,
		CodecName:    "ass-test",
		TimeBase:     timeBase,
		CodecPrivate: header,
	})
	for _, ev := range events {
		startMs := int64(ev.StartSec * 1000)
		endMs := int64(ev.EndSec * 1000)
		line := strconv.FormatInt(startMs, 10) + "|" + strconv.FormatInt(endMs, 10) + "|" + ev.Text
		sub := av.Subtitle{
			PTS:            startMs,
			StartDisplayMs: 0,
			EndDisplayMs:   endMs - startMs,
			Rects:          []av.SubtitleRect{{Text: line}},
		}
		payload, _ := json.Marshal(&sub)
		m.Packets = append(m.Packets, av.Packet{
			StreamIndex: index,
			Data:        payload,
			PTS:         startMs,
			DTS:         startMs,
		})
	}
	return index
}

// AddFontAttachment appends an attachment stream carrying an embedded
// font and returns its stream index.
func AddFontAttachment(m *Media, filename string, data []byte) int {
	index := len(m.Streams)
	m.Streams = append(m.Streams, av.StreamInfo{
		Index:        index,
		Kind:         av.KindAttachment,
		Codec:        av.CodecOther,
		CodecName:    "ttf",
		TimeBase:     timeBase,
		CodecPrivate: data,
		Metadata: map[string]string{
			"filename": filename,
			"mimetype": "application/x-font-ttf",
		},
	})
	return index
}
