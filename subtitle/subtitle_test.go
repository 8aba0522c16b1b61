package subtitle

import (
	"testing"

	"github.com/opencodewin/mediacore/filter"
	"github.com/opencodewin/mediacore/media"
)

type fakeRasterizer struct{ calls int }

func (f *fakeRasterizer) Rasterize(cue Cue) (*media.Frame, filter.Rect, error) {
	f.calls++
	return media.NewFrame(10, 2, media.ElementINT8), filter.Rect{X: 0, Y: 0, W: 10, H: 2}, nil
}

func TestStaticGetClipByTime(t *testing.T) {
	t.Parallel()

	r := &fakeRasterizer{}
	s := NewStatic(r)
	if err := s.Add(Cue{StartMs: 100, EndMs: 200, Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Cue{StartMs: 300, EndMs: 400, Text: "world"}); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := s.GetClipByTime(50); ok {
		t.Error("expected no cue before first start")
	}
	if _, _, ok := s.GetClipByTime(150); !ok {
		t.Error("expected cue active at 150")
	}
	if _, _, ok := s.GetClipByTime(250); ok {
		t.Error("expected gap between cues to report no active cue")
	}
	if r.calls != 1 {
		t.Errorf("rasterize calls = %d, want 1", r.calls)
	}
}

func TestStaticAddRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	s := NewStatic(&fakeRasterizer{})
	if err := s.Add(Cue{StartMs: 200, EndMs: 300}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Cue{StartMs: 100, EndMs: 150}); err == nil {
		t.Error("expected error adding an out-of-order cue")
	}
}

func TestCaptionIngestIgnoresNonCaptionPayload(t *testing.T) {
	t.Parallel()

	c := NewCaption(&fakeRasterizer{})
	if err := c.Ingest([]byte{0x00, 0x01, 0x02}, 0); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, _, ok := c.GetClipByTime(0); ok {
		t.Error("expected no cue from a non-caption payload")
	}
}
