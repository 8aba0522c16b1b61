// Package clipsrc declares the external collaborators a Clip reads through:
// the media parser that opens a source URL, and the per-clip source reader
// that decodes frames on demand. Concrete decode/demux integration is out of
// scope for the compositing core (see package decode for a file-backed
// reference implementation grounded on real bitstream parsing).
package clipsrc

import (
	"context"

	"github.com/opencodewin/mediacore/media"
)

// StreamInfo describes the best video stream of an opened source, as
// returned by MediaParser.Open.
type StreamInfo struct {
	Width, Height int
	DurationMs    int64
	FrameRateNum  int64
	FrameRateDen  int64
	IsImage       bool
}

// MediaParser opens a source URL and exposes the stream info a Clip needs
// to compute its source duration and geometry.
type MediaParser interface {
	Open(ctx context.Context, url string) (StreamInfo, error)
}

// SourceReader is the per-clip decoder handle Clip.ReadSourceFrame and
// SeekTo drive. clipLocalMs is always relative to the start of the source
// (clip.start_offset already applied by the caller).
type SourceReader interface {
	// ReadFrame returns the frame whose presentation maps to clipLocalMs.
	// When wait is false it returns (nil, false, nil) if the decoder has
	// not buffered that frame yet, rather than blocking.
	ReadFrame(clipLocalMs int64, wait bool) (frame *media.Frame, ok bool, err error)
	// SeekTo repositions the decoder to clipLocalMs.
	SeekTo(clipLocalMs int64) error
	// SetDirection toggles forward/reverse decode order.
	SetDirection(forward bool)
	// Duration returns the source's total duration in milliseconds.
	Duration() int64
	// Close releases decoder resources.
	Close() error
}

// Cloner is implemented by SourceReaders that support Clip.Clone; readers
// that don't support cloning may omit it, in which case Clip.Clone returns
// an error for that clip.
type Cloner interface {
	CloneSource() (SourceReader, error)
}
