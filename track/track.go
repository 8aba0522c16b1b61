// Package track implements VideoTrack: one timeline lane of clips and their
// derived overlaps, driven by a single worker goroutine that advances
// ReadFrameTasks toward OutputReady.
package track

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencodewin/mediacore/clip"
	"github.com/opencodewin/mediacore/filter"
	"github.com/opencodewin/mediacore/media"
	"github.com/opencodewin/mediacore/overlap"
	"github.com/opencodewin/mediacore/rational"
	"github.com/opencodewin/mediacore/task"
)

// idleInterval is the worker's polling sleep when no task advances.
const idleInterval = 20 * time.Millisecond

// defaultPreReadWindow bounds how far ahead of the pending queue's head the
// worker will begin speculative source fetches.
const defaultPreReadWindow = 4

// BlendFunc mixes two already-filtered-and-transformed frames; installed by
// the owning reader so overlap resolution never needs to import package
// blend directly.
type BlendFunc func(base, overlay *media.Frame, opacity float64) (*media.Frame, error)

// Track is one timeline lane: a live list of clips (committed, read by the
// worker) and a staging list (mutated by callers), plus the overlaps
// derived from the live list.
type Track struct {
	id   int64
	rate rational.Rate
	log  *slog.Logger

	mu       sync.Mutex
	live     []*clip.Clip
	staging  []*clip.Clip
	overlaps []*overlap.Overlap

	clipChanged atomic.Bool
	visible     atomic.Bool
	forward     atomic.Bool

	clipHint    int
	overlapHint int

	qmu   sync.Mutex
	queue []*pendingTask

	blend    BlendFunc
	preReadN int

	quit chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// pendingTask is the track's private bookkeeping for one ReadFrameTask: the
// timeline position it targets, which clip/overlap it resolves to, and the
// raw source frame(s) accumulated so far.
type pendingTask struct {
	rt       *task.ReadFrameTask
	posMs    int64
	needSeek bool

	resolvedClip *clip.Clip
	resolvedOv   *overlap.Overlap

	frontRaw, rearRaw *media.Frame
	singleRaw         *media.Frame
}

// New constructs a Track with the given id and output rate. blend is used to
// resolve overlaps that carry no installed transition.
func New(id int64, rate rational.Rate, blend BlendFunc) *Track {
	t := &Track{
		id:       id,
		rate:     rate,
		log:      slog.With("component", "track", "track_id", id),
		blend:    blend,
		preReadN: defaultPreReadWindow,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.visible.Store(true)
	t.forward.Store(true)
	return t
}

// ID returns the track's identifier.
func (t *Track) ID() int64 { return t.id }

// SetVisible toggles the track's contribution to mixing.
func (t *Track) SetVisible(v bool) { t.visible.Store(v) }

// IsVisible reports the track's visibility.
func (t *Track) IsVisible() bool { return t.visible.Load() }

// SetPreReadWindow overrides the default speculative-fetch window size.
func (t *Track) SetPreReadWindow(n int) {
	if n > 0 {
		t.preReadN = n
	}
}

// Start launches the worker goroutine.
func (t *Track) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.run(ctx)
}

// Close signals the worker to stop and waits for it to exit.
func (t *Track) Close() error {
	close(t.quit)
	t.wg.Wait()
	for _, c := range t.snapshotLive() {
		c.Close()
	}
	return nil
}

func (t *Track) snapshotLive() []*clip.Clip {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*clip.Clip, len(t.live))
	copy(out, t.live)
	return out
}

// run is the worker loop: each iteration performs the first applicable step
// from §4.5, else sleeps idleInterval.
func (t *Track) run(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		default:
		}

		if t.clipChanged.Load() {
			t.updateClipState()
		}

		if t.dropDiscardedHead() {
			continue
		}
		if t.advanceProcessing() {
			continue
		}
		if t.startFetch() {
			continue
		}

		select {
		case <-time.After(idleInterval):
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		}
	}
}

// dropDiscardedHead removes a discarded task sitting at the queue head.
func (t *Track) dropDiscardedHead() bool {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if len(t.queue) == 0 {
		return false
	}
	head := t.queue[0]
	if !head.rt.IsDiscarded() {
		return false
	}
	t.queue = t.queue[1:]
	return true
}

// advanceProcessing finds the first source-ready, not-yet-output task
// (visible or not, so invisible tasks still reach OutputReady) and advances
// it through filter+transform+transition (or composes a blank frame when the
// task resolves to no clip).
func (t *Track) advanceProcessing() bool {
	t.qmu.Lock()
	var pt *pendingTask
	for _, cand := range t.queue {
		if cand.rt.IsDiscarded() || cand.rt.IsOutputFrameReady() {
			continue
		}
		if cand.rt.IsSourceFrameReady() {
			pt = cand
			break
		}
	}
	t.qmu.Unlock()
	if pt == nil {
		return false
	}

	pt.rt.StartProcessing()
	out, corrs, err := t.process(pt)
	if err != nil {
		t.log.Warn("process task failed", "pos_ms", pt.posMs, "error", err)
		pt.rt.SetDiscarded()
		return true
	}
	pt.rt.CompleteProcessing(out, corrs)
	return true
}

func (t *Track) process(pt *pendingTask) (*media.Frame, []media.CorrelativeFrame, error) {
	var out []media.CorrelativeFrame
	extra := filter.Args{"bypass_bg_node": pt.rt.BypassBG()}

	switch {
	case pt.resolvedOv != nil:
		ov := pt.resolvedOv
		front, err := ov.Front.ProcessSourceFrame(pt.posMs-ov.Front.Start(), &out, pt.frontRaw, extra)
		if err != nil {
			return nil, nil, fmt.Errorf("track %d: front clip %d: %w", t.id, ov.Front.ID(), err)
		}
		rear, err := ov.Rear.ProcessSourceFrame(pt.posMs-ov.Rear.Start(), &out, pt.rearRaw, extra)
		if err != nil {
			return nil, nil, fmt.Errorf("track %d: rear clip %d: %w", t.id, ov.Rear.ID(), err)
		}
		mixed, err := ov.ProcessSourceFrame(pt.posMs, front, rear, &out, t.blendOrDefault())
		if err != nil {
			return nil, nil, err
		}
		return mixed, out, nil

	case pt.resolvedClip != nil:
		c := pt.resolvedClip
		result, err := c.ProcessSourceFrame(pt.posMs-c.Start(), &out, pt.singleRaw, extra)
		if err != nil {
			return nil, nil, fmt.Errorf("track %d: clip %d: %w", t.id, c.ID(), err)
		}
		return result, out, nil

	default:
		return nil, nil, nil
	}
}

func (t *Track) blendOrDefault() func(base, overlay *media.Frame, opacity float64) (*media.Frame, error) {
	if t.blend != nil {
		return t.blend
	}
	return func(base, overlay *media.Frame, opacity float64) (*media.Frame, error) {
		return overlay, nil
	}
}

// startFetch looks within the pre-read window for the earliest task whose
// source is not yet ready, triggers/continues its source-frame fetch, and
// reports whether any progress was made.
func (t *Track) startFetch() bool {
	t.qmu.Lock()
	var pt *pendingTask
	limit := t.preReadN
	for i, cand := range t.queue {
		if i >= limit {
			break
		}
		if cand.rt.IsDiscarded() || cand.rt.IsSourceFrameReady() {
			continue
		}
		pt = cand
		break
	}
	t.qmu.Unlock()
	if pt == nil {
		return false
	}

	if !pt.rt.IsStarted() {
		if !pt.rt.TriggerStart() {
			pt.rt.SetDiscarded()
			return true
		}
		pt.rt.Start()
		t.resolve(pt)
		if pt.needSeek {
			t.seekAll(pt.posMs)
		}
	}

	t.fetchSource(pt)
	return true
}

// resolve locates which clip or overlap covers pt's timeline position,
// using bounded moves from the cached hints when the live list hasn't
// changed, or a full scan after a mutation-triggered invalidation.
func (t *Track) resolve(pt *pendingTask) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ov := t.findOverlapLocked(pt.posMs); ov != nil {
		pt.resolvedOv = ov
		return
	}
	if c := t.findClipLocked(pt.posMs); c != nil {
		pt.resolvedClip = c
	}
}

func (t *Track) findClipLocked(ms int64) *clip.Clip {
	n := len(t.live)
	if n == 0 {
		return nil
	}
	if t.clipHint >= n {
		t.clipHint = 0
	}
	for i := 0; i < n; i++ {
		c := t.live[t.clipHint]
		if ms >= c.Start() && ms < c.End() {
			return c
		}
		if ms < c.Start() {
			t.clipHint--
			if t.clipHint < 0 {
				t.clipHint = 0
				return t.scanClipsLocked(ms)
			}
		} else {
			t.clipHint++
			if t.clipHint >= n {
				return t.scanClipsLocked(ms)
			}
		}
	}
	return t.scanClipsLocked(ms)
}

func (t *Track) scanClipsLocked(ms int64) *clip.Clip {
	for i, c := range t.live {
		if ms >= c.Start() && ms < c.End() {
			t.clipHint = i
			return c
		}
	}
	return nil
}

func (t *Track) findOverlapLocked(ms int64) *overlap.Overlap {
	n := len(t.overlaps)
	if n == 0 {
		return nil
	}
	if t.overlapHint >= n {
		t.overlapHint = 0
	}
	for i := 0; i < n; i++ {
		o := t.overlaps[t.overlapHint]
		if o.Contains(ms) {
			return o
		}
		if ms < o.Start() {
			t.overlapHint--
			if t.overlapHint < 0 {
				t.overlapHint = 0
				break
			}
		} else {
			t.overlapHint++
			if t.overlapHint >= n {
				break
			}
		}
	}
	for i, o := range t.overlaps {
		if o.Contains(ms) {
			t.overlapHint = i
			return o
		}
	}
	return nil
}

func (t *Track) seekAll(ms int64) {
	for _, c := range t.snapshotLive() {
		if err := c.SeekTo(ms - c.Start()); err != nil {
			t.log.Warn("seek failed", "clip_id", c.ID(), "error", err)
		}
	}
}

// fetchSource drives the non-blocking read(s) needed to mark pt source
// ready. Once acquired, frames are cached on pt until StartProcessing
// consumes them.
func (t *Track) fetchSource(pt *pendingTask) {
	switch {
	case pt.resolvedOv != nil:
		ov := pt.resolvedOv
		if pt.frontRaw == nil {
			f, _, err := ov.Front.ReadAtTimeline(pt.posMs, false)
			if err != nil {
				t.log.Warn("front source read failed", "clip_id", ov.Front.ID(), "error", err)
			}
			pt.frontRaw = f
		}
		if pt.rearRaw == nil {
			f, _, err := ov.Rear.ReadAtTimeline(pt.posMs, false)
			if err != nil {
				t.log.Warn("rear source read failed", "clip_id", ov.Rear.ID(), "error", err)
			}
			pt.rearRaw = f
		}
		if pt.frontRaw != nil && pt.rearRaw != nil {
			pt.rt.MarkSourceReady()
		}

	case pt.resolvedClip != nil:
		if pt.singleRaw == nil {
			f, eof, err := pt.resolvedClip.ReadAtTimeline(pt.posMs, false)
			if err != nil {
				t.log.Warn("source read failed", "clip_id", pt.resolvedClip.ID(), "error", err)
			}
			if eof {
				pt.rt.MarkSourceReady()
				return
			}
			pt.singleRaw = f
		}
		if pt.singleRaw != nil {
			pt.rt.MarkSourceReady()
		}

	default:
		// No clip covers this position: zero source frames, output is blank.
		pt.rt.MarkSourceReady()
	}
}

// CreateReadFrameTask queues a new ReadFrameTask for frameIndex. If the
// queue's tail task has not yet started and is droppable, it is evicted
// first. bypassBG is forwarded to the clip filter as
// extra_args["bypass_bg_node"] when the task is processed. The new task
// takes the track's visibility at the time it is created.
func (t *Track) CreateReadFrameTask(frameIndex int64, canDrop, needSeek, bypassBG bool, host task.Host) *task.ReadFrameTask {
	posMs := rational.FrameIndexToMillisec(frameIndex, t.rate)

	t.qmu.Lock()
	defer t.qmu.Unlock()

	if n := len(t.queue); n > 0 {
		tail := t.queue[n-1]
		if !tail.rt.IsStarted() && tail.rt.CanDrop() {
			tail.rt.SetDiscarded()
			t.queue = t.queue[:n-1]
		}
	}

	rt := task.New(frameIndex, t.id, canDrop, needSeek, bypassBG, host)
	rt.SetVisible(t.visible.Load())
	t.queue = append(t.queue, &pendingTask{rt: rt, posMs: posMs, needSeek: needSeek})
	return rt
}

// MutationError is returned by the clip mutation API when a change would
// violate the at-most-one-overlap-per-pair or no-three-way-overlap
// invariants.
type MutationError struct{ Msg string }

func (e *MutationError) Error() string { return e.Msg }

// InsertClip appends c to the staging list.
func (t *Track) InsertClip(c *clip.Clip) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	candidate := append(append([]*clip.Clip{}, t.staging...), c)
	if err := validateNoTripleOverlap(candidate); err != nil {
		return err
	}
	c.SetTrackID(t.id)
	t.staging = candidate
	t.clipChanged.Store(true)
	return nil
}

// RemoveClipById removes the clip with the given id from staging.
func (t *Track) RemoveClipById(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := -1
	for i, c := range t.staging {
		if c.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("track %d: clip %d not found", t.id, id)
	}
	t.staging[idx].SetTrackID(-1)
	t.staging = append(t.staging[:idx], t.staging[idx+1:]...)
	t.clipChanged.Store(true)
	return nil
}

// MoveClip repositions clip id to a new timeline start, validating overlap
// invariants against the rest of staging before committing.
func (t *Track) MoveClip(id, newStart int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var target *clip.Clip
	for _, c := range t.staging {
		if c.ID() == id {
			target = c
			break
		}
	}
	if target == nil {
		return fmt.Errorf("track %d: clip %d not found", t.id, id)
	}
	prevStart := target.Start()
	if err := target.SetRange(newStart, target.StartOffset(), 0); err != nil {
		return err
	}
	if err := validateNoTripleOverlap(t.staging); err != nil {
		target.SetRange(prevStart, target.StartOffset(), 0)
		return err
	}
	t.clipChanged.Store(true)
	return nil
}

// ChangeClipRange updates clip id's start/startOffset/endOffset, rolling
// back on invariant violation.
func (t *Track) ChangeClipRange(id, start, startOffset, endOffset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var target *clip.Clip
	for _, c := range t.staging {
		if c.ID() == id {
			target = c
			break
		}
	}
	if target == nil {
		return fmt.Errorf("track %d: clip %d not found", t.id, id)
	}
	prevStart, prevSO, prevDur := target.Start(), target.StartOffset(), target.Duration()
	if err := target.SetRange(start, startOffset, endOffset); err != nil {
		return err
	}
	if err := validateNoTripleOverlap(t.staging); err != nil {
		// The source duration is the new duration plus both new offsets; the
		// previous endOffset follows from it.
		prevEO := target.Duration() + startOffset + endOffset - prevSO - prevDur
		target.SetRange(prevStart, prevSO, prevEO)
		return err
	}
	t.clipChanged.Store(true)
	return nil
}

// validateNoTripleOverlap enforces that no timeline instant is covered by
// three or more clips.
func validateNoTripleOverlap(clips []*clip.Clip) error {
	sorted := append([]*clip.Clip{}, clips...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start() < sorted[j].Start() })
	for i := range sorted {
		// Every later clip starting before sorted[i] ends overlaps it; two of
		// those that also overlap each other share an instant with sorted[i].
		var over []*clip.Clip
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Start() >= sorted[i].End() {
				break
			}
			for _, o := range over {
				if overlap.HasOverlap(o.Start(), o.End(), sorted[j].Start(), sorted[j].End()) {
					return &MutationError{Msg: fmt.Sprintf("track: three-way overlap at clip %d", sorted[i].ID())}
				}
			}
			over = append(over, sorted[j])
		}
	}
	return nil
}

// updateClipState atomically swaps staging into live, re-derives overlaps,
// sorts by start, and invalidates the worker's iterator hints.
func (t *Track) updateClipState() {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := append([]*clip.Clip{}, t.staging...)
	sort.Slice(live, func(i, j int) bool { return live[i].Start() < live[j].Start() })

	var ovs []*overlap.Overlap
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if live[j].Start() >= live[i].End() {
				break
			}
			if overlap.HasOverlap(live[i].Start(), live[i].End(), live[j].Start(), live[j].End()) {
				o, err := overlap.New(live[i], live[j])
				if err == nil {
					ovs = append(ovs, o)
				}
			}
		}
	}

	t.live = live
	t.overlaps = ovs
	t.clipHint = 0
	t.overlapHint = 0
	t.clipChanged.Store(false)
}

// SetDirection toggles forward/reverse decode order on every live clip.
func (t *Track) SetDirection(forward bool) {
	t.forward.Store(forward)
	for _, c := range t.snapshotLive() {
		c.SetDirection(forward)
	}
}
