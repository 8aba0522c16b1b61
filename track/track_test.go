package track

import (
	"context"
	"testing"
	"time"

	"github.com/opencodewin/mediacore/clip"
	"github.com/opencodewin/mediacore/media"
	"github.com/opencodewin/mediacore/rational"
)

type constSource struct {
	dur int64
}

func (c *constSource) ReadFrame(clipLocalMs int64, wait bool) (*media.Frame, bool, error) {
	f := media.NewFrame(2, 2, media.ElementINT8)
	f.TimestampMs = clipLocalMs
	return f, true, nil
}
func (c *constSource) SeekTo(int64) error       { return nil }
func (c *constSource) SetDirection(bool)        {}
func (c *constSource) Duration() int64          { return c.dur }
func (c *constSource) Close() error             { return nil }

type fakeHost struct{ started, dropped bool }

func (h *fakeHost) TriggerDrop() bool {
	if h.started {
		return false
	}
	h.dropped = true
	return true
}
func (h *fakeHost) TriggerStart() bool {
	if h.dropped {
		return false
	}
	h.started = true
	return true
}
func (h *fakeHost) UpdateOutputFrames([]media.CorrelativeFrame) {}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestTrackProducesOutputForSingleClip(t *testing.T) {
	t.Parallel()

	tr := New(1, rational.Rate{Num: 30, Den: 1}, nil)
	c, err := clip.New(1, 1, 0, 0, 0, 1000, &constSource{dur: 1000}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.InsertClip(c); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Close()

	h := &fakeHost{}
	rt := tr.CreateReadFrameTask(0, true, false, false, h)

	waitUntil(t, time.Second, rt.IsOutputFrameReady)
	if rt.Output() == nil {
		t.Error("expected non-nil output frame")
	}
}

func TestCreateReadFrameTaskEvictsDroppableTail(t *testing.T) {
	t.Parallel()

	tr := New(1, rational.Rate{Num: 30, Den: 1}, nil)
	h1 := &fakeHost{}
	tail := tr.CreateReadFrameTask(5, true, false, false, h1)
	h2 := &fakeHost{}
	tr.CreateReadFrameTask(6, true, false, false, h2)

	if !tail.IsDiscarded() {
		t.Error("expected un-started droppable tail task to be evicted")
	}
}

func TestInsertClipRejectsTripleOverlap(t *testing.T) {
	t.Parallel()

	tr := New(1, rational.Rate{Num: 30, Den: 1}, nil)
	a, _ := clip.New(1, 1, 0, 0, 0, 1000, &constSource{dur: 1000}, false)
	b, _ := clip.New(2, 1, 200, 0, 0, 1000, &constSource{dur: 1000}, false)
	cc, _ := clip.New(3, 1, 400, 0, 0, 1000, &constSource{dur: 1000}, false)

	if err := tr.InsertClip(a); err != nil {
		t.Fatal(err)
	}
	if err := tr.InsertClip(b); err != nil {
		t.Fatal(err)
	}
	if err := tr.InsertClip(cc); err == nil {
		t.Error("expected error inserting a clip creating a three-way overlap")
	}
}

func TestTaskWithNoCoveringClipProducesBlankOutput(t *testing.T) {
	t.Parallel()

	tr := New(1, rational.Rate{Num: 30, Den: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Close()

	h := &fakeHost{}
	rt := tr.CreateReadFrameTask(0, true, false, false, h)
	waitUntil(t, time.Second, rt.IsOutputFrameReady)
	if !rt.Output().IsBlank() {
		t.Error("expected blank output for a position no clip covers")
	}
}
