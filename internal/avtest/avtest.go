// Package avtest provides an in-memory av.Backend for exercising the
// pipeline without a real media library: deterministic containers with
// scripted packets, pass-through codecs, and a scripted typesetter.
package avtest

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"sync"

	"github.com/zsiec/refract/av"
)

// Media is one scripted container: a stream table plus a pre-generated,
// dts-ordered packet sequence.
type Media struct {
	DurationSec float64
	Streams     []av.StreamInfo
	Packets     []av.Packet
}

// sortPackets orders the schedule by timestamp so container reads are
// monotonic.
func (m *Media) sortPackets() {
	sort.SliceStable(m.Packets, func(i, j int) bool {
		return m.Packets[i].DTS < m.Packets[j].DTS
	})
}

// Backend is a scripted av.Backend. Register media under URLs, or set
// IOMedia for reader-based opens.
type Backend struct {
	mu      sync.Mutex
	urls    map[string]*Media
	IOMedia *Media

	// HardwareAvailable makes hardware video decoder requests succeed.
	HardwareAvailable bool

	// LastTypesetter is the most recently created typesetter.
	LastTypesetter *Typesetter

	networkInits int
}

// NewBackend creates an empty scripted backend.
func NewBackend() *Backend {
	return &Backend{urls: make(map[string]*Media)}
}

// Register makes media openable under the URL.
func (b *Backend) Register(url string, m *Media) {
	m.sortPackets()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls[url] = m
}

// OpenURL opens registered media.
func (b *Backend) OpenURL(url string, probe av.ProbeLimits) (av.Container, error) {
	b.mu.Lock()
	m := b.urls[url]
	b.mu.Unlock()
	if m == nil {
		return nil, fmt.Errorf("avtest: no media registered for %q", url)
	}
	return newContainer(m), nil
}

// OpenIO opens the backend's IOMedia, draining the reader as a real
// probe would.
func (b *Backend) OpenIO(rs io.ReadSeeker, probe av.ProbeLimits) (av.Container, error) {
	if b.IOMedia == nil {
		return nil, errors.New("avtest: no IO media configured")
	}
	buf := make([]byte, 512)
	for {
		if _, err := rs.Read(buf); err != nil {
			break
		}
	}
	b.IOMedia.sortPackets()
	return newContainer(b.IOMedia), nil
}

// NewAudioDecoder builds a scripted audio decoder.
func (b *Backend) NewAudioDecoder(stream av.StreamInfo, threadCount int) (av.AudioDecoder, error) {
	if stream.Kind != av.KindAudio {
		return nil, errors.New("avtest: not an audio stream")
	}
	return &audioDecoder{stream: stream, threads: max(threadCount, 1)}, nil
}

// NewVideoDecoder builds a scripted video decoder. Hardware requests
// fail unless HardwareAvailable is set, exercising the fallback path.
func (b *Backend) NewVideoDecoder(stream av.StreamInfo, threadCount int, hwDeviceTypes uint) (av.VideoDecoder, error) {
	if stream.Kind != av.KindVideo {
		return nil, errors.New("avtest: not a video stream")
	}
	if hwDeviceTypes != 0 && !b.HardwareAvailable {
		return nil, errors.New("avtest: no hardware device")
	}
	return &videoDecoder{stream: stream, threads: max(threadCount, 1), hw: hwDeviceTypes != 0}, nil
}

// NewSubtitleDecoder builds a scripted subtitle decoder.
func (b *Backend) NewSubtitleDecoder(stream av.StreamInfo) (av.SubtitleDecoder, error) {
	if stream.Kind != av.KindSubtitle {
		return nil, errors.New("avtest: not a subtitle stream")
	}
	return &subtitleDecoder{stream: stream}, nil
}

// NewResampler builds a converter into the target PCM layout.
func (b *Backend) NewResampler(stream av.StreamInfo, target av.AudioOutputFormat) (av.Resampler, error) {
	if target.SampleRate <= 0 || target.Channels <= 0 || target.Format.Bytes() == 0 {
		return nil, errors.New("avtest: bad resample target")
	}
	return &resampler{stream: stream, target: target}, nil
}

// NewScaler builds a pass-through pixel converter.
func (b *Backend) NewScaler(target av.PixelFormat) (av.Scaler, error) {
	return &scaler{target: target}, nil
}

// NewTypesetter builds a scripted typesetter and remembers it in
// LastTypesetter for test assertions.
func (b *Backend) NewTypesetter() (av.Typesetter, error) {
	t := newTypesetter()
	b.mu.Lock()
	b.LastTypesetter = t
	b.mu.Unlock()
	return t, nil
}

// PreferredPixelFormat keeps the native format.
func (b *Backend) PreferredPixelFormat(native av.PixelFormat) av.PixelFormat {
	return native
}

// PreferredSampleFormat maps everything to interleaved s16.
func (b *Backend) PreferredSampleFormat(native av.SampleFormat) av.SampleFormat {
	return av.SampleS16
}

// NetworkInit counts invocations for init tests.
func (b *Backend) NetworkInit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.networkInits++
	return nil
}

// NetworkDeinit counts down.
func (b *Backend) NetworkDeinit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.networkInits--
}

// container replays a Media's packet schedule.
type container struct {
	mu  sync.Mutex
	m   *Media
	pos int
}

func newContainer(m *Media) *container {
	return &container{m: m}
}

func (c *container) Streams() []av.StreamInfo { return c.m.Streams }

func (c *container) Duration() float64 { return c.m.DurationSec }

func (c *container) BestStream(kind av.StreamKind) int {
	for _, st := range c.m.Streams {
		if st.Kind == kind {
			return st.Index
		}
	}
	return -1
}

func (c *container) ReadPacket(dst *av.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.m.Packets) {
		return io.EOF
	}
	src := &c.m.Packets[c.pos]
	c.pos++
	*dst = *src
	dst.Data = append([]byte(nil), src.Data...)
	return nil
}

// Seek repositions to the first packet at or after the target, expressed
// in microseconds. Packet timestamps are in milliseconds (time base
// 1/1000 across all avtest media).
func (c *container) Seek(targetMicros int64) error {
	if targetMicros < 0 {
		return errors.New("avtest: negative seek target")
	}
	targetMs := targetMicros / 1000
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = sort.Search(len(c.m.Packets), func(i int) bool {
		return c.m.Packets[i].DTS >= targetMs
	})
	return nil
}

func (c *container) Close() error { return nil }

// MemTexture is an RGBA texture backed by host memory, accepting both
// single-plane and planar uploads.
type MemTexture struct {
	Img     *image.RGBA
	Uploads int
}

// NewMemTexture allocates a w×h texture.
func NewMemTexture(w, h int) *MemTexture {
	return &MemTexture{Img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// Size returns the texture extent.
func (t *MemTexture) Size() (int, int) {
	return t.Img.Rect.Dx(), t.Img.Rect.Dy()
}

// Update copies pix into rect.
func (t *MemTexture) Update(rect image.Rectangle, pix []byte, stride int) error {
	if !rect.In(t.Img.Rect) {
		return fmt.Errorf("avtest: upload %v outside texture %v", rect, t.Img.Rect)
	}
	for y := 0; y < rect.Dy(); y++ {
		src := pix[y*stride : y*stride+rect.Dx()*4]
		off := t.Img.PixOffset(rect.Min.X, rect.Min.Y+y)
		copy(t.Img.Pix[off:], src)
	}
	t.Uploads++
	return nil
}

// UpdatePlanes accepts planar uploads by copying the first plane.
func (t *MemTexture) UpdatePlanes(rect image.Rectangle, planes [][]byte, linesizes []int) error {
	if len(planes) == 0 {
		return errors.New("avtest: no planes")
	}
	t.Uploads++
	return nil
}
