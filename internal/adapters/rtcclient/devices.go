package rtcclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
)

const defaultFrameDuration = 33 * time.Millisecond

var ErrUnsupportedCodec = errors.New("unsupported codec")

// Devices hands out local tracks. Media is read from the configured files,
// looping at the end; an empty path gives a track without media.
type Devices struct {
	Codec      string
	VideoFile  string
	AudioFile  string
	ScreenFile string
}

var _ engine.Devices = (*Devices)(nil)

func VideoCapability(codec string) (webrtc.RTPCodecCapability, error) {
	switch strings.ToLower(codec) {
	case "", "vp8":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, nil
	case "vp9":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}, nil
	case "h264":
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}, nil
	}
	return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
}

var opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

func (d *Devices) MicrophoneAndCamera(ctx context.Context) (engine.LocalTrack, engine.LocalTrack, error) {
	audio, err := d.open(domain.MediaAudio, "mic", d.AudioFile)
	if err != nil {
		return nil, nil, fmt.Errorf("microphone: %w", err)
	}
	video, err := d.open(domain.MediaVideo, "cam", d.VideoFile)
	if err != nil {
		audio.Close()
		return nil, nil, fmt.Errorf("camera: %w", err)
	}
	return audio, video, nil
}

func (d *Devices) Screen(ctx context.Context) (engine.LocalTrack, error) {
	t, err := d.open(domain.MediaVideo, "screen", d.ScreenFile)
	if err != nil {
		return nil, fmt.Errorf("screen: %w", err)
	}
	return t, nil
}

func (d *Devices) open(kind domain.MediaKind, prefix, path string) (*LocalTrack, error) {
	codec := opusCapability
	if kind == domain.MediaVideo {
		var err error
		if codec, err = VideoCapability(d.Codec); err != nil {
			return nil, err
		}
	}

	var src sampleSource
	if path != "" {
		var err error
		if src, err = openSource(path); err != nil {
			return nil, err
		}
	}
	id := prefix + "-" + uuid.NewString()
	t, err := newLocalTrack(id, kind, codec, src)
	if err != nil {
		if src != nil {
			_ = src.Close()
		}
		return nil, err
	}
	log.Info().Str("module", "rtcclient").Str("track_id", id).Str("kind", string(kind)).Str("file", path).Msg("local track")
	return t, nil
}

func openSource(path string) (sampleSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ivf":
		return newFileSource(path, newIVFParser)
	case ".ogg", ".opus":
		return newFileSource(path, newOggParser)
	case ".h264", ".264":
		return newFileSource(path, newH264Parser)
	}
	return nil, fmt.Errorf("unsupported media file %s", path)
}

// parser reads samples from one pass over a file.
type parser interface {
	next() (media.Sample, error)
}

// fileSource replays a media file forever.
type fileSource struct {
	f      *os.File
	newP   func(io.Reader) (parser, error)
	parser parser
}

func newFileSource(path string, newP func(io.Reader) (parser, error)) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	p, err := newP(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fileSource{f: f, newP: newP, parser: p}, nil
}

func (s *fileSource) NextSample() (media.Sample, error) {
	sample, err := s.parser.next()
	if !errors.Is(err, io.EOF) {
		return sample, err
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return media.Sample{}, err
	}
	if s.parser, err = s.newP(s.f); err != nil {
		return media.Sample{}, err
	}
	return s.parser.next()
}

func (s *fileSource) Close() error { return s.f.Close() }

type ivfParser struct {
	r     *ivfreader.IVFReader
	frame time.Duration
}

func newIVFParser(r io.Reader) (parser, error) {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, err
	}
	frame := defaultFrameDuration
	if header.TimebaseDenominator != 0 {
		if d := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second)); d > 0 {
			frame = d
		}
	}
	return &ivfParser{r: ivf, frame: frame}, nil
}

func (p *ivfParser) next() (media.Sample, error) {
	frame, _, err := p.r.ParseNextFrame()
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: p.frame}, nil
}

type oggParser struct {
	r           *oggreader.OggReader
	lastGranule uint64
}

func newOggParser(r io.Reader) (parser, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return nil, err
	}
	return &oggParser{r: ogg}, nil
}

func (p *oggParser) next() (media.Sample, error) {
	for {
		page, header, err := p.r.ParseNextPage()
		if err != nil {
			return media.Sample{}, err
		}
		if isOpusHeaderPage(page) {
			continue
		}
		return media.Sample{Data: page, Duration: p.pageDuration(header.GranulePosition)}, nil
	}
}

// pageDuration turns the granule delta, counted in 48kHz samples, into a
// duration. A granule that does not advance yields no delay.
func (p *oggParser) pageDuration(granule uint64) time.Duration {
	if granule <= p.lastGranule {
		if granule != 0 {
			p.lastGranule = granule
		}
		return 0
	}
	count := granule - p.lastGranule
	p.lastGranule = granule
	return time.Duration(float64(count) / 48000 * float64(time.Second))
}

func isOpusHeaderPage(page []byte) bool {
	return bytes.HasPrefix(page, []byte("OpusHead")) || bytes.HasPrefix(page, []byte("OpusTags"))
}

type h264Parser struct {
	r *h264reader.H264Reader
}

func newH264Parser(r io.Reader) (parser, error) {
	h, err := h264reader.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &h264Parser{r: h}, nil
}

func (p *h264Parser) next() (media.Sample, error) {
	nal, err := p.r.NextNAL()
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: nal.Data, Duration: defaultFrameDuration}, nil
}
