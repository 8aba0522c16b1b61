// Package overlap implements Overlap: the derived entity capturing a
// time-intersecting pair of clips on one track, and the transition (or
// default cross-blend) that composes them.
package overlap

import (
	"fmt"

	"github.com/opencodewin/mediacore/clip"
	"github.com/opencodewin/mediacore/filter"
	"github.com/opencodewin/mediacore/media"
)

// HasOverlap reports whether two clips' timeline ranges [start,end)
// intersect: a.start < b.end && b.start < a.end.
func HasOverlap(aStart, aEnd, bStart, bEnd int64) bool {
	return aStart < bEnd && bStart < aEnd
}

// Overlap is a pair of clips whose on-timeline ranges intersect. Front is
// the clip with the earlier start; Rear is the one with the later start.
type Overlap struct {
	Front, Rear *clip.Clip
	transition  filter.VideoTransition
}

// New orders a and b into Front/Rear by start position and returns an
// Overlap, or an error if their ranges don't actually intersect.
func New(a, b *clip.Clip) (*Overlap, error) {
	if !HasOverlap(a.Start(), a.End(), b.Start(), b.End()) {
		return nil, fmt.Errorf("overlap: clips %d and %d do not intersect", a.ID(), b.ID())
	}
	front, rear := a, b
	if b.Start() < a.Start() {
		front, rear = b, a
	}
	return &Overlap{Front: front, Rear: rear}, nil
}

// SetTransition installs (or clears, with nil) the transition used to mix
// this overlap's two clips.
func (o *Overlap) SetTransition(t filter.VideoTransition) {
	o.transition = t
}

// Start returns the overlap's timeline start: Rear.Start() (the later of the
// two clip starts).
func (o *Overlap) Start() int64 { return o.Rear.Start() }

// End returns the overlap's timeline end: the earlier of the two clips' End.
func (o *Overlap) End() int64 {
	if o.Front.End() < o.Rear.End() {
		return o.Front.End()
	}
	return o.Rear.End()
}

// Duration returns End() - Start().
func (o *Overlap) Duration() int64 { return o.End() - o.Start() }

// Contains reports whether the timeline position t falls within the
// overlap window.
func (o *Overlap) Contains(t int64) bool {
	return t >= o.Start() && t < o.End()
}

// ProcessSourceFrame mixes frontFrame (already filtered+transformed through
// Front's own clip pipeline) and rearFrame (through Rear's) at timeline
// position pos. With a transition installed, it delegates to
// VideoTransition.MixTwoImages keyed by the overlap-local position and
// duration; without one, it returns the rear-over-front blend using the
// default software compositor semantics encoded in blend.Software (the
// caller supplies that blend via blendFn to avoid a direct package
// dependency cycle with the reader's configured Blender).
func (o *Overlap) ProcessSourceFrame(pos int64, frontFrame, rearFrame *media.Frame, framesOut *[]media.CorrelativeFrame, blendFn func(base, overlay *media.Frame, opacity float64) (*media.Frame, error)) (*media.Frame, error) {
	var out *media.Frame
	var err error

	if o.transition != nil {
		overlapPos := pos - o.Start()
		out, err = o.transition.MixTwoImages(frontFrame, rearFrame, overlapPos, o.Duration())
		if err != nil {
			return nil, fmt.Errorf("overlap(%d,%d): transition: %w", o.Front.ID(), o.Rear.ID(), err)
		}
	} else {
		out, err = blendFn(frontFrame, rearFrame, rearFrame.Opacity)
		if err != nil {
			return nil, fmt.Errorf("overlap(%d,%d): default blend: %w", o.Front.ID(), o.Rear.ID(), err)
		}
	}

	if framesOut != nil && out != nil {
		*framesOut = append(*framesOut, media.CorrelativeFrame{
			CorrelativeKey: media.CorrelativeKey{Phase: media.PhaseAfterTransition, ClipID: o.Rear.ID(), TrackID: o.Rear.TrackID()},
			Image:          out,
		})
	}
	return out, nil
}
