// Package decode's source.go wires the NAL parsing in bitstream.go into a
// concrete clipsrc.SourceReader/MediaParser/Cloner: a file-backed source
// that recovers real picture geometry and keyframe/SEI boundaries from an
// Annex B elementary stream, and synthesizes a deterministic placeholder
// picture per frame (pixel decode itself is the external collaborator the
// design delegates, per package decode's doc comment).
package decode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencodewin/mediacore/clipsrc"
	"github.com/opencodewin/mediacore/media"
)

// Codec identifies which Annex B NAL unit grammar a stream uses.
type Codec int

const (
	CodecH264 Codec = iota
	CodecHEVC
)

// defaultFrameDurationMs is the synthetic per-frame duration used when a
// stream carries no explicit timing (this package parses NAL boundaries,
// not a container's timestamp track).
const defaultFrameDurationMs = 33

// frameRecord is one decoded-order picture: whether it is a keyframe, and
// the raw SEI payloads (if any) that preceded it in the bitstream.
type frameRecord struct {
	isKey       bool
	seiPayloads [][]byte
}

type parsedStream struct {
	codec         Codec
	width, height int
	frames        []frameRecord
}

func detectCodec(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".265", ".hevc", ".h265":
		return CodecHEVC
	default:
		return CodecH264
	}
}

func isVCL(codec Codec, t byte) bool {
	if codec == CodecHEVC {
		return t <= hevcNALCraNut || (t >= 0 && t <= 9)
	}
	return t == 1 || t == h264NALIDR
}

func isKeyframe(codec Codec, t byte) bool {
	if codec == CodecHEVC {
		return isHEVCKeyframe(t)
	}
	return t == h264NALIDR
}

func isSEI(codec Codec, t byte) bool {
	if codec == CodecHEVC {
		return t == hevcNALSEIPrefix
	}
	return t == h264NALSEI
}

func isSPS(codec Codec, t byte) bool {
	if codec == CodecHEVC {
		return t == hevcNALSPS
	}
	return t == h264NALSPS
}

// parseFile reads path as an Annex B elementary stream and recovers picture
// geometry plus one frameRecord per coded picture.
func parseFile(path string) (*parsedStream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decode: read %s: %w", path, err)
	}

	codec := detectCodec(path)
	var units []NALUnit
	if codec == CodecHEVC {
		units = parseAnnexBHEVC(data)
	} else {
		units = parseAnnexBH264(data)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("decode: no NAL units found in %s", path)
	}

	ps := &parsedStream{codec: codec}
	var pendingSEI [][]byte

	for _, u := range units {
		switch {
		case isSPS(codec, u.Type) && ps.width == 0:
			if codec == CodecHEVC {
				info, err := parseHEVCSPS(u.Data)
				if err == nil {
					ps.width, ps.height = info.Width, info.Height
				}
			} else {
				info, err := parseSPS(u.Data)
				if err == nil {
					ps.width, ps.height = info.Width, info.Height
				}
			}

		case isSEI(codec, u.Type):
			pendingSEI = append(pendingSEI, u.Data)

		case isVCL(codec, u.Type):
			ps.frames = append(ps.frames, frameRecord{
				isKey:       isKeyframe(codec, u.Type),
				seiPayloads: pendingSEI,
			})
			pendingSEI = nil
		}
	}

	if ps.width == 0 || ps.height == 0 {
		return nil, fmt.Errorf("decode: %s: no SPS found, cannot recover picture geometry", path)
	}
	if len(ps.frames) == 0 {
		return nil, fmt.Errorf("decode: %s: no coded pictures found", path)
	}
	return ps, nil
}

// FileSource is a clipsrc.SourceReader/Cloner backed by a parsed Annex B
// file. ReadFrame synthesizes a deterministic placeholder picture sized to
// the stream's real geometry; actual pixel decode is out of scope.
type FileSource struct {
	mu      sync.Mutex
	path    string
	stream  *parsedStream
	reverse bool
}

// NewFileSource parses path and constructs a SourceReader over it.
func NewFileSource(path string) (*FileSource, error) {
	ps, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, stream: ps}, nil
}

func (f *FileSource) frameIndex(clipLocalMs int64) int {
	return int(clipLocalMs / defaultFrameDurationMs)
}

// ReadFrame synthesizes the picture at clipLocalMs. wait is accepted for
// interface compatibility; this reader never blocks.
func (f *FileSource) ReadFrame(clipLocalMs int64, wait bool) (*media.Frame, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.frameIndex(clipLocalMs)
	if idx < 0 || idx >= len(f.stream.frames) {
		return nil, false, nil
	}
	rec := f.stream.frames[idx]
	img := synthesizePicture(f.stream.width, f.stream.height, idx, rec.isKey)
	img.TimestampMs = clipLocalMs
	return img, true, nil
}

// SeekTo is a no-op beyond bounds validation: ReadFrame is already
// positionless (it indexes directly off clipLocalMs).
func (f *FileSource) SeekTo(clipLocalMs int64) error {
	if clipLocalMs < 0 {
		return fmt.Errorf("decode: seek to negative position %d", clipLocalMs)
	}
	return nil
}

// SetDirection records playback direction for diagnostics; ReadFrame's
// position math is direction-agnostic since the caller always supplies an
// absolute clip-local position.
func (f *FileSource) SetDirection(forward bool) {
	f.mu.Lock()
	f.reverse = !forward
	f.mu.Unlock()
}

// Duration returns the stream's total synthetic duration in milliseconds.
func (f *FileSource) Duration() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.stream.frames)) * defaultFrameDurationMs
}

// Close releases no resources; the file was read fully at parse time.
func (f *FileSource) Close() error { return nil }

// CloneSource returns an independent reader sharing the same immutable
// parsed stream.
func (f *FileSource) CloneSource() (clipsrc.SourceReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &FileSource{path: f.path, stream: f.stream, reverse: f.reverse}, nil
}

// SEIPayloadsAt returns the raw SEI NAL payloads that preceded the picture
// at clipLocalMs, for forwarding into subtitle.Caption.Ingest.
func (f *FileSource) SEIPayloadsAt(clipLocalMs int64) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.frameIndex(clipLocalMs)
	if idx < 0 || idx >= len(f.stream.frames) {
		return nil
	}
	return f.stream.frames[idx].seiPayloads
}

// synthesizePicture builds a deterministic, non-blank placeholder frame: a
// horizontal gradient whose brightness step varies with idx, brighter on
// keyframes. Real pixel decode is outside this package's scope.
func synthesizePicture(width, height, idx int, isKey bool) *media.Frame {
	img := media.NewFrame(width, height, media.ElementINT8)
	base := byte((idx * 7) % 200)
	if isKey {
		base = 255
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := (y*width + x) * 4
			shade := base
			if width > 1 {
				shade = byte((int(base) * x) / (width - 1))
			}
			img.Pix[off+0] = shade
			img.Pix[off+1] = shade
			img.Pix[off+2] = shade
			img.Pix[off+3] = 255
		}
	}
	return img
}

// Parser implements clipsrc.MediaParser against Annex B files on disk.
type Parser struct{}

// Open parses url (a filesystem path) and reports its stream geometry and
// synthetic duration.
func (Parser) Open(ctx context.Context, url string) (clipsrc.StreamInfo, error) {
	ps, err := parseFile(url)
	if err != nil {
		return clipsrc.StreamInfo{}, err
	}
	return clipsrc.StreamInfo{
		Width:        ps.width,
		Height:       ps.height,
		DurationMs:   int64(len(ps.frames)) * defaultFrameDurationMs,
		FrameRateNum: 1000,
		FrameRateDen: defaultFrameDurationMs,
		IsImage:      false,
	}, nil
}

var (
	_ clipsrc.SourceReader = (*FileSource)(nil)
	_ clipsrc.Cloner       = (*FileSource)(nil)
	_ clipsrc.MediaParser  = Parser{}
)
