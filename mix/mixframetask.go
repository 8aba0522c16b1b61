// Package mix implements MixFrameTask, the per-output-frame aggregator that
// collects one ReadFrameTask per track and carries the 2-bit atomic
// cancel/commit state those tasks trigger through their host callback.
package mix

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/opencodewin/mediacore/media"
)

// State bits for the 2-bit atomic lifecycle flag. DROP and START are
// mutually exclusive; the zero value means neither has been decided yet.
const (
	stateNone  = 0
	stateDrop  = 0x1
	stateStart = 0x2
)

// TrackTask pairs a track id with its per-track ReadFrameTask. The task type
// itself is left opaque (an any) so this package does not import task,
// avoiding a dependency cycle (task.Host is implemented by *MixFrameTask).
// ViewOrder is the track's position in the reader's view-order list at the
// time this task was built (bottom track = 0), which is what compositing
// Z-order must follow — it is independent of TrackID.
type TrackTask struct {
	TrackID   int64
	ViewOrder int
	Task      ReadFrameTaskHandle
}

// ReadFrameTaskHandle is the subset of *task.ReadFrameTask a MixFrameTask
// needs to drive from the mixing workers, named locally to avoid importing
// package task (which itself depends on this package's Host interface).
type ReadFrameTaskHandle interface {
	IsSourceFrameReady() bool
	IsOutputFrameReady() bool
	IsDiscarded() bool
	IsVisible() bool
	StartProcessing()
	SetDiscarded() bool
	Output() *media.Frame
}

// MixFrameTask aggregates one ReadFrameTask per track for a single output
// frame index.
type MixFrameTask struct {
	FrameIndex int64

	state atomic.Int32

	outputReady atomic.Bool
	started     atomic.Bool

	mu     sync.Mutex
	tracks []TrackTask
	output *media.Frame

	corrMu       sync.Mutex
	correlatives map[media.CorrelativeKey]*media.Frame
}

// New constructs an empty MixFrameTask for the given output frame index.
func New(frameIndex int64) *MixFrameTask {
	return &MixFrameTask{
		FrameIndex:   frameIndex,
		correlatives: make(map[media.CorrelativeKey]*media.Frame),
	}
}

// AddTrackTask registers a track's ReadFrameTask with this mix task, tagged
// with its caller-supplied view-order index (bottom = 0). Not safe to call
// after the worker loop has begun iterating the task (i.e. only during
// CreateReadFrameTask-time construction).
func (m *MixFrameTask) AddTrackTask(trackID int64, viewOrder int, t ReadFrameTaskHandle) {
	m.mu.Lock()
	m.tracks = append(m.tracks, TrackTask{TrackID: trackID, ViewOrder: viewOrder, Task: t})
	m.mu.Unlock()
}

// Tracks returns a snapshot of the registered (track, task) pairs, ordered
// by view order ascending (bottom track first; the mixing worker walks the
// slice front to back, so the bottom track is composited first). View order,
// not track id, is the Z-order the reader's ChangeTrackViewOrder controls.
func (m *MixFrameTask) Tracks() []TrackTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackTask, len(m.tracks))
	copy(out, m.tracks)
	sort.Slice(out, func(i, j int) bool { return out[i].ViewOrder < out[j].ViewOrder })
	return out
}

// AllSourceReady reports whether every registered track task has reached
// SourceReady (or later) or is discarded.
func (m *MixFrameTask) AllSourceReady() bool {
	for _, tt := range m.Tracks() {
		if tt.Task.IsDiscarded() {
			continue
		}
		if !tt.Task.IsSourceFrameReady() {
			return false
		}
	}
	return true
}

// AllOutputReady reports whether every registered, non-discarded track task
// has reached OutputReady.
func (m *MixFrameTask) AllOutputReady() bool {
	for _, tt := range m.Tracks() {
		if tt.Task.IsDiscarded() {
			continue
		}
		if !tt.Task.IsOutputFrameReady() {
			return false
		}
	}
	return true
}

// HasStarted reports whether StartAll has already been invoked for this
// task (source gating has been performed, Worker-A's job is done).
func (m *MixFrameTask) HasStarted() bool { return m.started.Load() }

// StartAll calls StartProcessing on every registered, non-discarded track
// task exactly once. Safe to call more than once; only the first call has
// effect.
func (m *MixFrameTask) StartAll() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	for _, tt := range m.Tracks() {
		if tt.Task.IsDiscarded() {
			continue
		}
		tt.Task.StartProcessing()
	}
}

// IsOutputReady reports whether the mixed output frame has been produced.
func (m *MixFrameTask) IsOutputReady() bool { return m.outputReady.Load() }

// SetOutput stores the mixed frame and marks the task output-ready.
func (m *MixFrameTask) SetOutput(f *media.Frame) {
	m.mu.Lock()
	m.output = f
	m.mu.Unlock()
	m.outputReady.Store(true)
}

// Output returns the mixed frame, or nil if not yet ready.
func (m *MixFrameTask) Output() *media.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output
}

// Correlatives returns a snapshot of the merged correlative frames.
func (m *MixFrameTask) Correlatives() []media.CorrelativeFrame {
	m.corrMu.Lock()
	defer m.corrMu.Unlock()
	out := make([]media.CorrelativeFrame, 0, len(m.correlatives))
	for k, v := range m.correlatives {
		out = append(out, media.CorrelativeFrame{CorrelativeKey: k, Image: v})
	}
	return out
}

// TriggerDrop compare-exchanges the 2-bit state from none to DROP. Returns
// true if this call won the exchange or DROP was already set; false if
// START had already been committed.
func (m *MixFrameTask) TriggerDrop() bool {
	if m.state.CompareAndSwap(stateNone, stateDrop) {
		return true
	}
	return m.state.Load() == stateDrop
}

// TriggerStart compare-exchanges the 2-bit state from none to START.
// Returns true if this call won the exchange or START was already set;
// false if DROP had already been committed. Once START succeeds, undoing
// commitment requires the individual ReadFrameTask's SetDiscarded, since
// downstream resources are already committed.
func (m *MixFrameTask) TriggerStart() bool {
	if m.state.CompareAndSwap(stateNone, stateStart) {
		return true
	}
	return m.state.Load() == stateStart
}

// IsDropped reports whether this task's state has committed to DROP.
func (m *MixFrameTask) IsDropped() bool { return m.state.Load() == stateDrop }

// IsStartCommitted reports whether this task's state has committed to
// START.
func (m *MixFrameTask) IsStartCommitted() bool { return m.state.Load() == stateStart }

// UpdateOutputFrames merges frames into the host's correlative set, keyed by
// {phase, clip-id, track-id}; a later update for the same key replaces the
// earlier image.
func (m *MixFrameTask) UpdateOutputFrames(frames []media.CorrelativeFrame) {
	if len(frames) == 0 {
		return
	}
	m.corrMu.Lock()
	defer m.corrMu.Unlock()
	for _, f := range frames {
		m.correlatives[f.CorrelativeKey] = f.Image
	}
}

// Discard marks every registered track task as discarded. Used when the
// host (MultiTrackReader) evicts this mix task from its cache.
func (m *MixFrameTask) Discard() {
	for _, tt := range m.Tracks() {
		tt.Task.SetDiscarded()
	}
}
