// Package clip implements Clip: a windowed reference to a decoded source
// stream with timeline placement, an optional filter chain, and a
// transform. Clips are mutated only through VideoTrack's mutation API; a
// bare Clip is otherwise a read-mostly value.
package clip

import (
	"fmt"
	"sync"

	"github.com/opencodewin/mediacore/clipsrc"
	"github.com/opencodewin/mediacore/filter"
	"github.com/opencodewin/mediacore/media"
)

// Clip is a window onto a decoded source stream. start, startOffset, and
// endOffset are all in milliseconds; start is a timeline position, the
// offsets are into the source.
type Clip struct {
	mu sync.RWMutex

	id      int64
	trackID int64 // -1 when detached

	start       int64
	startOffset int64
	endOffset   int64
	srcDuration int64 // duration reported by the source at open time

	reverse bool
	isImage bool

	source SourceReaderHandle
	filt   filter.VideoFilter
	xform  *filter.Transform
}

// SourceReaderHandle is the subset of clipsrc.SourceReader a Clip drives,
// named locally so clip_test.go can supply minimal fakes without importing
// clipsrc directly.
type SourceReaderHandle = clipsrc.SourceReader

// New constructs a Clip. srcDuration is the source's total duration in
// milliseconds as reported by the MediaParser/SourceReader at open time.
// The duration invariant (srcDuration - startOffset - endOffset > 0) is
// checked here and by every mutator that changes the range.
func New(id, trackID int64, start, startOffset, endOffset, srcDuration int64, source SourceReaderHandle, isImage bool) (*Clip, error) {
	c := &Clip{
		id:          id,
		trackID:     trackID,
		start:       start,
		startOffset: startOffset,
		endOffset:   endOffset,
		srcDuration: srcDuration,
		source:      source,
		isImage:     isImage,
		xform:       filter.IdentityTransform(),
	}
	if err := c.validateRangeLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// validateRangeLocked must be called with c.mu held (or during construction,
// before c is shared).
func (c *Clip) validateRangeLocked() error {
	if c.start < 0 {
		return fmt.Errorf("clip %d: start %d must be >= 0", c.id, c.start)
	}
	dur := c.srcDuration - c.startOffset - c.endOffset
	if dur <= 0 {
		return fmt.Errorf("clip %d: duration %d must be > 0 (src=%d off=%d,%d)", c.id, dur, c.srcDuration, c.startOffset, c.endOffset)
	}
	return nil
}

// ID returns the clip's identifier.
func (c *Clip) ID() int64 { return c.id }

// TrackID returns the back-reference to the owning track, or -1 if detached.
func (c *Clip) TrackID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trackID
}

// SetTrackID updates the back-reference; called by VideoTrack on
// attach/detach. It never grants the clip a handle back to the track.
func (c *Clip) SetTrackID(id int64) {
	c.mu.Lock()
	c.trackID = id
	c.mu.Unlock()
}

// Start returns the clip's timeline start position in milliseconds.
func (c *Clip) Start() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// Duration returns srcDuration - startOffset - endOffset, recomputed live so
// ChangeClipRange always reflects the current range.
func (c *Clip) Duration() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.srcDuration - c.startOffset - c.endOffset
}

// End returns the clip's exclusive timeline end position: start+duration.
func (c *Clip) End() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start + (c.srcDuration - c.startOffset - c.endOffset)
}

// StartOffset returns the offset into the source at which the clip begins.
func (c *Clip) StartOffset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startOffset
}

// IsImage reports whether this clip is a still-image clip, whose
// start/end-offset are reinterpreted as a clip-local time window rather
// than a window into a decoded source timeline.
func (c *Clip) IsImage() bool {
	return c.isImage
}

// SetFilter installs or clears the clip's filter chain.
func (c *Clip) SetFilter(f filter.VideoFilter) {
	c.mu.Lock()
	c.filt = f
	c.mu.Unlock()
}

// SetTransform installs the clip's transform. A nil transform resets to
// identity.
func (c *Clip) SetTransform(t *filter.Transform) {
	c.mu.Lock()
	if t == nil {
		t = filter.IdentityTransform()
	}
	c.xform = t
	c.mu.Unlock()
}

// SetRange updates start/startOffset/endOffset as one atomic change,
// validating the duration invariant before committing. On failure the clip
// is left unchanged.
func (c *Clip) SetRange(start, startOffset, endOffset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prevStart, prevSO, prevEO := c.start, c.startOffset, c.endOffset
	c.start, c.startOffset, c.endOffset = start, startOffset, endOffset
	if err := c.validateRangeLocked(); err != nil {
		c.start, c.startOffset, c.endOffset = prevStart, prevSO, prevEO
		return err
	}
	return nil
}

// toSourceLocal converts a timeline position to the clip-local position
// passed to the source reader: timeline_pos - clip.start, then offset into
// the source by startOffset (image clips skip the source offset, since
// their window is purely clip-local per the design).
func (c *Clip) toSourceLocal(timelinePos int64) int64 {
	c.mu.RLock()
	start, startOffset, isImage := c.start, c.startOffset, c.isImage
	c.mu.RUnlock()
	local := timelinePos - start
	if isImage {
		return local
	}
	return local + startOffset
}

// ReadSourceFrame asks the clip's source reader for the frame whose
// presentation maps to clipLocalPos (already source-relative; see
// toSourceLocal). eof is true once the read position has moved outside the
// clip's valid range in the current direction.
func (c *Clip) ReadSourceFrame(clipLocalPos int64, wait bool) (frame *media.Frame, eof bool, err error) {
	c.mu.RLock()
	reverse := c.reverse
	dur := c.srcDuration - c.startOffset - c.endOffset
	local := clipLocalPos
	if !c.isImage {
		local -= c.startOffset
	}
	source := c.source
	c.mu.RUnlock()

	if reverse {
		if local < 0 {
			return nil, true, nil
		}
	} else if local >= dur {
		return nil, true, nil
	}

	if source == nil {
		return nil, false, nil
	}
	f, ok, err := source.ReadFrame(clipLocalPos, wait)
	if err != nil {
		return nil, false, fmt.Errorf("clip %d: read source frame at %d: %w", c.id, clipLocalPos, err)
	}
	if !ok {
		return nil, false, nil
	}
	return f, false, nil
}

// ReadAtTimeline is a convenience wrapper converting a timeline position to
// source-local before calling ReadSourceFrame.
func (c *Clip) ReadAtTimeline(timelinePos int64, wait bool) (frame *media.Frame, eof bool, err error) {
	return c.ReadSourceFrame(c.toSourceLocal(timelinePos), wait)
}

// ProcessSourceFrame runs the clip's filter chain (if any) then its
// transform on inputFrame, appending SOURCE, AFTER_FILTER, and
// AFTER_TRANSFORM correlatives to framesOut, and returns the post-transform
// frame. clipLocalPos is passed to the filter; the transform is applied
// without it (see filter.Transform.Apply).
func (c *Clip) ProcessSourceFrame(clipLocalPos int64, framesOut *[]media.CorrelativeFrame, inputFrame *media.Frame, extra filter.Args) (*media.Frame, error) {
	c.mu.RLock()
	f := c.filt
	xform := c.xform
	trackID := c.trackID
	c.mu.RUnlock()

	appendCorrelative(framesOut, media.PhaseSource, c.id, trackID, inputFrame)

	current := inputFrame
	if f != nil {
		filtered, err := f.FilterImage(current, clipLocalPos, extra)
		if err != nil {
			return nil, fmt.Errorf("clip %d: filter: %w", c.id, err)
		}
		current = filtered
	}
	appendCorrelative(framesOut, media.PhaseAfterFilter, c.id, trackID, current)

	current = xform.Apply(current)
	appendCorrelative(framesOut, media.PhaseAfterTransform, c.id, trackID, current)

	return current, nil
}

func appendCorrelative(out *[]media.CorrelativeFrame, phase media.Phase, clipID, trackID int64, img *media.Frame) {
	if out == nil || img == nil {
		return
	}
	*out = append(*out, media.CorrelativeFrame{
		CorrelativeKey: media.CorrelativeKey{Phase: phase, ClipID: clipID, TrackID: trackID},
		Image:          img,
	})
}

// SeekTo repositions the underlying source reader to clip-local position
// clipLocalPos (timeline_pos - clip.start), offset into the source by
// startOffset for non-image clips as toSourceLocal does. VideoTrack calls
// this when a task bears the NeedSeek flag, independent of the reader's
// public SeekTo API.
func (c *Clip) SeekTo(clipLocalPos int64) error {
	c.mu.RLock()
	source := c.source
	sourcePos := clipLocalPos
	if !c.isImage {
		sourcePos += c.startOffset
	}
	c.mu.RUnlock()
	if source == nil {
		return nil
	}
	if err := source.SeekTo(sourcePos); err != nil {
		return fmt.Errorf("clip %d: seek to %d: %w", c.id, clipLocalPos, err)
	}
	return nil
}

// NotifyReadPos informs the clip of the track's current timeline read
// position, without requesting a seek. Clips that track read-ahead state
// (none, by default) can use this as a hint; the base Clip ignores it.
func (c *Clip) NotifyReadPos(timelinePos int64) {}

// SetDirection toggles forward (true) / reverse (false) decode order on the
// clip and its source reader.
func (c *Clip) SetDirection(forward bool) {
	c.mu.Lock()
	c.reverse = !forward
	source := c.source
	c.mu.Unlock()
	if source != nil {
		source.SetDirection(forward)
	}
}

// Clone returns a detached copy of c with a cloned source reader (if the
// source supports clipsrc.Cloner), filter, and transform. The clone's
// trackID is -1 until a track attaches it.
func (c *Clip) Clone() (*Clip, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var clonedSource SourceReaderHandle
	if c.source != nil {
		cloner, ok := c.source.(clipsrc.Cloner)
		if !ok {
			return nil, fmt.Errorf("clip %d: source reader does not support cloning", c.id)
		}
		cs, err := cloner.CloneSource()
		if err != nil {
			return nil, fmt.Errorf("clip %d: clone source: %w", c.id, err)
		}
		clonedSource = cs
	}

	var clonedFilter filter.VideoFilter
	if c.filt != nil {
		clonedFilter = c.filt.Clone()
	}
	xform := *c.xform

	return &Clip{
		id:          c.id,
		trackID:     -1,
		start:       c.start,
		startOffset: c.startOffset,
		endOffset:   c.endOffset,
		srcDuration: c.srcDuration,
		reverse:     c.reverse,
		isImage:     c.isImage,
		source:      clonedSource,
		filt:        clonedFilter,
		xform:       &xform,
	}, nil
}

// Close releases the clip's source reader.
func (c *Clip) Close() error {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()
	if source == nil {
		return nil
	}
	return source.Close()
}
