// Package task implements ReadFrameTask, one track's per-frame unit of
// work, and the narrow Host callback interface it uses to coordinate
// cancellation and commitment with its owning MixFrameTask.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/opencodewin/mediacore/media"
)

// State is a ReadFrameTask's lifecycle stage.
type State int32

const (
	StateNew State = iota
	Started
	SourceReady
	Processing
	OutputReady
	Discarded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case Started:
		return "Started"
	case SourceReady:
		return "SourceReady"
	case Processing:
		return "Processing"
	case OutputReady:
		return "OutputReady"
	case Discarded:
		return "Discarded"
	default:
		return "Unknown"
	}
}

// Host is the narrow callback interface a ReadFrameTask uses to coordinate
// with its owning MixFrameTask. Implementations must make TriggerDrop and
// TriggerStart safe to call concurrently from multiple ReadFrameTasks, and
// must make them mutually exclusive: once one succeeds, the other must
// report failure forever after.
type Host interface {
	TriggerDrop() bool
	TriggerStart() bool
	UpdateOutputFrames(frames []media.CorrelativeFrame)
}

// ReadFrameTask is one track's work item to produce the frame at a given
// frame index. It corresponds to zero source frames (read position outside
// every clip), one (inside a clip, outside any overlap), or two (inside an
// overlap).
type ReadFrameTask struct {
	FrameIndex int64
	TrackID    int64

	state   atomic.Int32
	visible atomic.Bool

	needSeek bool
	canDrop  bool
	bypassBG bool

	mu     sync.Mutex
	host   Host
	output *media.Frame
}

// New constructs a ReadFrameTask in state New, bound to host for the
// TriggerDrop/TriggerStart/UpdateOutputFrames callback protocol.
func New(frameIndex, trackID int64, canDrop, needSeek, bypassBG bool, host Host) *ReadFrameTask {
	t := &ReadFrameTask{
		FrameIndex: frameIndex,
		TrackID:    trackID,
		needSeek:   needSeek,
		canDrop:    canDrop,
		bypassBG:   bypassBG,
		host:       host,
	}
	t.visible.Store(true)
	t.state.Store(int32(StateNew))
	return t
}

// State returns the current lifecycle state.
func (t *ReadFrameTask) State() State { return State(t.state.Load()) }

// IsStarted reports state >= Started (and not Discarded).
func (t *ReadFrameTask) IsStarted() bool {
	s := t.State()
	return s != StateNew && s != Discarded
}

// IsSourceFrameReady reports state >= SourceReady (and not Discarded).
func (t *ReadFrameTask) IsSourceFrameReady() bool {
	s := t.State()
	return (s == SourceReady || s == Processing || s == OutputReady)
}

// IsOutputFrameReady reports state == OutputReady.
func (t *ReadFrameTask) IsOutputFrameReady() bool { return t.State() == OutputReady }

// IsDiscarded reports state == Discarded.
func (t *ReadFrameTask) IsDiscarded() bool { return t.State() == Discarded }

// IsVisible reports the task's visibility flag (independent of lifecycle
// state): an invisible task still runs its state machine so cache/ordering
// invariants hold, but contributes a transparent frame to mixing.
func (t *ReadFrameTask) IsVisible() bool { return t.visible.Load() }

// SetVisible updates the visibility flag.
func (t *ReadFrameTask) SetVisible(v bool) { t.visible.Store(v) }

// NeedSeek reports whether the worker must call Clip.SeekTo before reading
// this task's source frame(s).
func (t *ReadFrameTask) NeedSeek() bool { return t.needSeek }

// CanDrop reports whether this task may be evicted before it starts.
func (t *ReadFrameTask) CanDrop() bool { return t.canDrop }

// BypassBG reports the bypass_bg_node flag forwarded to the clip filter via
// extra args.
func (t *ReadFrameTask) BypassBG() bool { return t.bypassBG }

// Start transitions New -> Started. No-op if already started or discarded.
func (t *ReadFrameTask) Start() {
	t.state.CompareAndSwap(int32(StateNew), int32(Started))
}

// MarkSourceReady transitions Started -> SourceReady.
func (t *ReadFrameTask) MarkSourceReady() {
	t.state.CompareAndSwap(int32(Started), int32(SourceReady))
}

// StartProcessing transitions SourceReady -> Processing, or OutputReady ->
// Processing (the explicit-reprocess path). No-op from any other state.
func (t *ReadFrameTask) StartProcessing() {
	if t.state.CompareAndSwap(int32(SourceReady), int32(Processing)) {
		return
	}
	t.state.CompareAndSwap(int32(OutputReady), int32(Processing))
}

// Reprocess clears output-ready and returns the task to Processing. It is
// the same transition as the OutputReady branch of StartProcessing, kept as
// a separate named entry point per the design's state diagram.
func (t *ReadFrameTask) Reprocess() { t.StartProcessing() }

// CompleteProcessing transitions Processing -> OutputReady and stores the
// produced frame, notifying the host of new correlative frames.
func (t *ReadFrameTask) CompleteProcessing(output *media.Frame, correlatives []media.CorrelativeFrame) {
	t.mu.Lock()
	t.output = output
	t.mu.Unlock()
	t.state.CompareAndSwap(int32(Processing), int32(OutputReady))
	if t.host != nil && len(correlatives) > 0 {
		t.host.UpdateOutputFrames(correlatives)
	}
}

// Output returns the most recently produced frame, or nil if none yet.
func (t *ReadFrameTask) Output() *media.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output
}

// SetDiscarded transitions any non-terminal state to Discarded. Idempotent:
// a second call is a no-op and returns false.
func (t *ReadFrameTask) SetDiscarded() bool {
	for {
		cur := t.state.Load()
		if State(cur) == Discarded {
			return false
		}
		if t.state.CompareAndSwap(cur, int32(Discarded)) {
			return true
		}
	}
}

// TriggerStart asks the host to commit this task's mix frame to processing.
// Returns false if the host already committed to dropping, in which case
// the caller must SetDiscarded this task.
func (t *ReadFrameTask) TriggerStart() bool {
	if t.host == nil {
		return true
	}
	return t.host.TriggerStart()
}

// TriggerDrop asks the host to commit this task's mix frame to dropping.
func (t *ReadFrameTask) TriggerDrop() bool {
	if t.host == nil {
		return true
	}
	return t.host.TriggerDrop()
}
