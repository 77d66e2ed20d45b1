package avtest

import (
	"encoding/json"
	"errors"

	"github.com/zsiec/refract/av"
)

// codecQueueDepth bounds each fake codec's internal packet queue, so the
// av.ErrAgain retry path gets exercised under load.
const codecQueueDepth = 4

// SamplesPerPacket is the decoded frame size of the fake audio codec.
const SamplesPerPacket = 512

// audioDecoder turns each packet into one frame of silence at the
// packet's timestamp.
type audioDecoder struct {
	stream  av.StreamInfo
	threads int
	queue   []int64 // pending frame timestamps
	closed  bool
}

func (d *audioDecoder) SendPacket(pkt *av.Packet) error {
	if d.closed {
		return errors.New("avtest: decoder closed")
	}
	if len(d.queue) >= codecQueueDepth {
		return av.ErrAgain
	}
	d.queue = append(d.queue, pkt.PTS)
	return nil
}

func (d *audioDecoder) ReceiveFrame(dst *av.AudioFrame) error {
	if len(d.queue) == 0 {
		return av.ErrAgain
	}
	pts := d.queue[0]
	d.queue = d.queue[1:]
	*dst = av.AudioFrame{
		Data:       [][]byte{make([]byte, SamplesPerPacket*2*d.stream.Channels)},
		Samples:    SamplesPerPacket,
		SampleRate: d.stream.SampleRate,
		Channels:   d.stream.Channels,
		Format:     av.SampleS16,
		PTS:        pts,
	}
	return nil
}

func (d *audioDecoder) Flush() { d.queue = nil }

func (d *audioDecoder) Info() av.CodecInfo {
	return av.CodecInfo{Name: "pcmtest", Description: "scripted audio codec", Threads: d.threads}
}

func (d *audioDecoder) Close() error {
	d.closed = true
	return nil
}

// videoDecoder turns each packet into one RGBA frame at the packet's
// timestamp.
type videoDecoder struct {
	stream  av.StreamInfo
	threads int
	hw      bool
	queue   []int64
	closed  bool
}

func (d *videoDecoder) SendPacket(pkt *av.Packet) error {
	if d.closed {
		return errors.New("avtest: decoder closed")
	}
	if len(d.queue) >= codecQueueDepth {
		return av.ErrAgain
	}
	d.queue = append(d.queue, pkt.PTS)
	return nil
}

func (d *videoDecoder) ReceiveFrame(dst *av.VideoFrame) error {
	if len(d.queue) == 0 {
		return av.ErrAgain
	}
	pts := d.queue[0]
	d.queue = d.queue[1:]
	w, h := d.stream.Width, d.stream.Height
	*dst = av.VideoFrame{
		Data:              [][]byte{make([]byte, w*h*4)},
		Linesize:          []int{w * 4},
		Width:             w,
		Height:            h,
		Format:            d.stream.PixelFormat,
		PTS:               pts,
		SampleAspectRatio: d.stream.SampleAspectRatio,
	}
	return nil
}

func (d *videoDecoder) Flush() { d.queue = nil }

func (d *videoDecoder) Info() av.CodecInfo {
	name := "rawtest"
	if d.hw {
		name = "rawtest-hw"
	}
	return av.CodecInfo{Name: name, Description: "scripted video codec", Threads: d.threads}
}

func (d *videoDecoder) Close() error {
	d.closed = true
	return nil
}

// subtitleDecoder unmarshals events that media builders serialized into
// packet payloads.
type subtitleDecoder struct {
	stream av.StreamInfo
	closed bool
}

func (d *subtitleDecoder) Decode(pkt *av.Packet, dst *av.Subtitle) (bool, error) {
	if d.closed {
		return false, errors.New("avtest: decoder closed")
	}
	if len(pkt.Data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(pkt.Data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (d *subtitleDecoder) Flush() {}

func (d *subtitleDecoder) Info() av.CodecInfo {
	return av.CodecInfo{Name: d.stream.CodecName, Description: "scripted subtitle codec", Threads: 1}
}

func (d *subtitleDecoder) Close() error {
	d.closed = true
	return nil
}

// resampler emits silence in the target layout, sized by the frame's
// sample count and the rate ratio.
type resampler struct {
	stream av.StreamInfo
	target av.AudioOutputFormat
	closed bool
}

func (r *resampler) Convert(frame *av.AudioFrame) ([]byte, error) {
	if r.closed {
		return nil, errors.New("avtest: resampler closed")
	}
	samples := frame.Samples
	if frame.SampleRate > 0 && frame.SampleRate != r.target.SampleRate {
		samples = samples * r.target.SampleRate / frame.SampleRate
	}
	return make([]byte, samples*r.target.Channels*r.target.Format.Bytes()), nil
}

func (r *resampler) Close() error {
	r.closed = true
	return nil
}

// scaler passes frames through, retagging the pixel format.
type scaler struct {
	target av.PixelFormat
	closed bool
}

func (s *scaler) Scale(src, dst *av.VideoFrame) error {
	if s.closed {
		return errors.New("avtest: scaler closed")
	}
	dst.Data = dst.Data[:0]
	for _, plane := range src.Data {
		dst.Data = append(dst.Data, append([]byte(nil), plane...))
	}
	dst.Linesize = append([]int(nil), src.Linesize...)
	dst.Width = src.Width
	dst.Height = src.Height
	dst.Format = s.target
	return nil
}

func (s *scaler) Close() error {
	s.closed = true
	return nil
}
