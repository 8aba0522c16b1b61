package task

import (
	"testing"

	"github.com/opencodewin/mediacore/media"
)

type fakeHost struct {
	dropOK    bool
	startOK   bool
	committed bool
	updates   []media.CorrelativeFrame
}

func (h *fakeHost) TriggerDrop() bool {
	if h.committed {
		return h.dropOK
	}
	h.committed = true
	h.dropOK = true
	h.startOK = false
	return true
}

func (h *fakeHost) TriggerStart() bool {
	if h.committed {
		return h.startOK
	}
	h.committed = true
	h.startOK = true
	h.dropOK = false
	return true
}

func (h *fakeHost) UpdateOutputFrames(frames []media.CorrelativeFrame) {
	h.updates = append(h.updates, frames...)
}

func TestLifecycleHappyPath(t *testing.T) {
	t.Parallel()

	rt := New(10, 1, true, false, false, &fakeHost{})
	if rt.State() != StateNew {
		t.Fatalf("state = %v, want New", rt.State())
	}
	if rt.IsStarted() {
		t.Error("new task must not report started")
	}
	rt.Start()
	if !rt.IsStarted() {
		t.Error("expected started after Start()")
	}
	rt.MarkSourceReady()
	if !rt.IsSourceFrameReady() {
		t.Error("expected source-ready")
	}
	rt.StartProcessing()
	if rt.State() != Processing {
		t.Errorf("state = %v, want Processing", rt.State())
	}
	out := media.NewFrame(2, 2, media.ElementINT8)
	rt.CompleteProcessing(out, []media.CorrelativeFrame{{
		CorrelativeKey: media.CorrelativeKey{Phase: media.PhaseAfterMixing, ClipID: 1, TrackID: 1},
		Image:          out,
	}})
	if !rt.IsOutputFrameReady() {
		t.Error("expected output-ready")
	}
	if rt.Output() != out {
		t.Error("Output() did not return stored frame")
	}
}

func TestReprocessReturnsToProcessing(t *testing.T) {
	t.Parallel()

	rt := New(0, 1, false, false, false, &fakeHost{})
	rt.Start()
	rt.MarkSourceReady()
	rt.StartProcessing()
	rt.CompleteProcessing(media.NewFrame(1, 1, media.ElementINT8), nil)
	if rt.State() != OutputReady {
		t.Fatalf("state = %v, want OutputReady", rt.State())
	}
	rt.Reprocess()
	if rt.State() != Processing {
		t.Errorf("state after Reprocess = %v, want Processing", rt.State())
	}
}

func TestSetDiscardedIdempotent(t *testing.T) {
	t.Parallel()

	rt := New(0, 1, true, false, false, &fakeHost{})
	if !rt.SetDiscarded() {
		t.Error("first SetDiscarded must return true")
	}
	if rt.SetDiscarded() {
		t.Error("second SetDiscarded must return false")
	}
	if !rt.IsDiscarded() {
		t.Error("expected discarded")
	}
}

func TestVisibilityIndependentOfState(t *testing.T) {
	t.Parallel()

	rt := New(0, 1, true, false, false, &fakeHost{})
	if !rt.IsVisible() {
		t.Error("default visibility must be true")
	}
	rt.SetVisible(false)
	if rt.IsVisible() {
		t.Error("expected invisible after SetVisible(false)")
	}
	rt.Start()
	if rt.IsVisible() {
		t.Error("Start() must not affect visibility")
	}
}

func TestTriggerStartAndDropMutuallyExclusive(t *testing.T) {
	t.Parallel()

	h := &fakeHost{}
	a := New(0, 1, true, false, false, h)
	b := New(0, 2, true, false, false, h)

	if !a.TriggerStart() {
		t.Fatal("first TriggerStart must succeed")
	}
	if !b.TriggerStart() {
		t.Error("second TriggerStart on a committed-to-start host must still succeed")
	}
	if b.TriggerDrop() {
		t.Error("TriggerDrop must also fail once host committed to start")
	}
}
