package mix

import (
	"testing"

	"github.com/opencodewin/mediacore/media"
)

type fakeTask struct {
	sourceReady bool
	outputReady bool
	discarded   bool
	visible     bool
	started     bool
}

func (f *fakeTask) IsSourceFrameReady() bool { return f.sourceReady }
func (f *fakeTask) IsOutputFrameReady() bool { return f.outputReady }
func (f *fakeTask) IsDiscarded() bool        { return f.discarded }
func (f *fakeTask) IsVisible() bool          { return f.visible }
func (f *fakeTask) StartProcessing()         { f.started = true }
func (f *fakeTask) Output() *media.Frame     { return nil }
func (f *fakeTask) SetDiscarded() bool {
	was := f.discarded
	f.discarded = true
	return !was
}

func TestTriggerDropAndStartMutuallyExclusive(t *testing.T) {
	t.Parallel()

	m := New(0)
	if !m.TriggerStart() {
		t.Fatal("first TriggerStart must succeed")
	}
	if !m.TriggerStart() {
		t.Error("repeated TriggerStart on an already-START task must still return true")
	}
	if m.TriggerDrop() {
		t.Error("TriggerDrop must fail once START is committed")
	}
	if !m.IsStartCommitted() {
		t.Error("expected start committed")
	}
}

func TestTriggerDropWins(t *testing.T) {
	t.Parallel()

	m := New(0)
	if !m.TriggerDrop() {
		t.Fatal("first TriggerDrop must succeed")
	}
	if m.TriggerStart() {
		t.Error("TriggerStart must fail once DROP is committed")
	}
	if !m.IsDropped() {
		t.Error("expected dropped")
	}
}

func TestAllSourceAndOutputReady(t *testing.T) {
	t.Parallel()

	m := New(0)
	a := &fakeTask{visible: true}
	b := &fakeTask{visible: true}
	m.AddTrackTask(1, 0, a)
	m.AddTrackTask(2, 1, b)

	if m.AllSourceReady() {
		t.Error("expected not all source ready")
	}
	a.sourceReady = true
	b.sourceReady = true
	if !m.AllSourceReady() {
		t.Error("expected all source ready")
	}
	if m.AllOutputReady() {
		t.Error("expected not all output ready yet")
	}
	a.outputReady = true
	b.outputReady = true
	if !m.AllOutputReady() {
		t.Error("expected all output ready")
	}
}

func TestDiscardedTrackSkippedInReadiness(t *testing.T) {
	t.Parallel()

	m := New(0)
	ready := &fakeTask{sourceReady: true, outputReady: true, visible: true}
	gone := &fakeTask{discarded: true}
	m.AddTrackTask(1, 0, ready)
	m.AddTrackTask(2, 1, gone)

	if !m.AllSourceReady() || !m.AllOutputReady() {
		t.Error("discarded track must not block readiness")
	}
}

func TestStartAllOnlyOnce(t *testing.T) {
	t.Parallel()

	m := New(0)
	a := &fakeTask{}
	m.AddTrackTask(1, 0, a)
	m.StartAll()
	if !a.started {
		t.Fatal("expected StartProcessing called")
	}
	a.started = false
	m.StartAll()
	if a.started {
		t.Error("StartAll must be a no-op after the first call")
	}
}

func TestUpdateOutputFramesMergesByKey(t *testing.T) {
	t.Parallel()

	m := New(0)
	f1 := media.NewFrame(1, 1, media.ElementINT8)
	f2 := media.NewFrame(1, 1, media.ElementINT8)
	key := media.CorrelativeKey{Phase: media.PhaseSource, ClipID: 5, TrackID: 1}
	m.UpdateOutputFrames([]media.CorrelativeFrame{{CorrelativeKey: key, Image: f1}})
	m.UpdateOutputFrames([]media.CorrelativeFrame{{CorrelativeKey: key, Image: f2}})

	got := m.Correlatives()
	if len(got) != 1 {
		t.Fatalf("correlatives = %d, want 1", len(got))
	}
	if got[0].Image != f2 {
		t.Error("expected later update to replace earlier image for the same key")
	}
}

func TestTracksSortedByViewOrder(t *testing.T) {
	t.Parallel()

	m := New(0)
	// Track ids deliberately descend while view order ascends, so a sort
	// that accidentally fell back to track id would be caught here.
	m.AddTrackTask(5, 0, &fakeTask{})
	m.AddTrackTask(3, 1, &fakeTask{})
	m.AddTrackTask(1, 2, &fakeTask{})

	tracks := m.Tracks()
	for i := 1; i < len(tracks); i++ {
		if tracks[i-1].ViewOrder > tracks[i].ViewOrder {
			t.Fatalf("Tracks() not sorted by view order: %+v", tracks)
		}
	}
	if tracks[0].TrackID != 5 || tracks[1].TrackID != 3 || tracks[2].TrackID != 1 {
		t.Fatalf("expected track ids in view-order sequence 5,3,1; got %+v", tracks)
	}
}
