package clip

import (
	"testing"

	"github.com/opencodewin/mediacore/media"
)

type fakeSource struct {
	dur       int64
	lastPos   int64
	forward   bool
	seekCalls []int64
	closed    bool
}

func (f *fakeSource) ReadFrame(clipLocalMs int64, wait bool) (*media.Frame, bool, error) {
	f.lastPos = clipLocalMs
	fr := media.NewFrame(4, 4, media.ElementINT8)
	fr.Pix[0] = 7
	return fr, true, nil
}

func (f *fakeSource) SeekTo(clipLocalMs int64) error {
	f.seekCalls = append(f.seekCalls, clipLocalMs)
	return nil
}

func (f *fakeSource) SetDirection(forward bool) { f.forward = forward }
func (f *fakeSource) Duration() int64           { return f.dur }
func (f *fakeSource) Close() error              { f.closed = true; return nil }

func TestNewValidatesDuration(t *testing.T) {
	t.Parallel()

	src := &fakeSource{dur: 1000}
	if _, err := New(1, 1, 0, 900, 200, 1000, src, false); err == nil {
		t.Error("expected error: startOffset+endOffset >= srcDuration")
	}
	c, err := New(1, 1, 0, 0, 0, 1000, src, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Duration() != 1000 {
		t.Errorf("Duration() = %d, want 1000", c.Duration())
	}
}

func TestReadSourceFrameEOF(t *testing.T) {
	t.Parallel()

	src := &fakeSource{dur: 1000}
	c, err := New(1, 1, 100, 0, 0, 1000, src, false)
	if err != nil {
		t.Fatal(err)
	}

	// Forward: clipLocalPos >= duration is EOF.
	_, eof, err := c.ReadSourceFrame(1000, true)
	if err != nil || !eof {
		t.Errorf("ReadSourceFrame(1000) eof=%v err=%v, want eof=true", eof, err)
	}

	frame, eof, err := c.ReadSourceFrame(500, true)
	if err != nil || eof || frame == nil {
		t.Fatalf("ReadSourceFrame(500) frame=%v eof=%v err=%v", frame, eof, err)
	}
	if src.lastPos != 500 {
		t.Errorf("source saw pos %d, want 500", src.lastPos)
	}
}

func TestReadSourceFrameReverseEOF(t *testing.T) {
	t.Parallel()

	src := &fakeSource{dur: 1000}
	c, err := New(1, 1, 0, 0, 0, 1000, src, false)
	if err != nil {
		t.Fatal(err)
	}
	c.SetDirection(false)
	_, eof, err := c.ReadSourceFrame(-1, true)
	if err != nil || !eof {
		t.Errorf("reverse ReadSourceFrame(-1) eof=%v err=%v, want eof=true", eof, err)
	}
}

func TestSetRangeRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{dur: 1000}
	c, err := New(1, 1, 0, 0, 0, 1000, src, false)
	if err != nil {
		t.Fatal(err)
	}
	before := c.Duration()
	if err := c.SetRange(0, 900, 200); err == nil {
		t.Error("expected error for invalid range")
	}
	if c.Duration() != before {
		t.Errorf("Duration changed after failed SetRange: got %d, want %d", c.Duration(), before)
	}
}

func TestProcessSourceFrameAppendsCorrelatives(t *testing.T) {
	t.Parallel()

	src := &fakeSource{dur: 1000}
	c, err := New(5, 2, 0, 0, 0, 1000, src, false)
	if err != nil {
		t.Fatal(err)
	}
	in := media.NewFrame(2, 2, media.ElementINT8)
	var out []media.CorrelativeFrame
	result, err := c.ProcessSourceFrame(10, &out, in, nil)
	if err != nil {
		t.Fatalf("ProcessSourceFrame: %v", err)
	}
	if result == nil {
		t.Fatal("expected non-nil result frame")
	}
	if len(out) != 3 { // SOURCE, AFTER_FILTER (passthrough), AFTER_TRANSFORM
		t.Fatalf("correlatives = %d, want 3; got %+v", len(out), out)
	}
	if out[0].Phase != media.PhaseSource || out[0].ClipID != 5 || out[0].TrackID != 2 {
		t.Errorf("first correlative = %+v", out[0])
	}
}

func TestCloneWithoutClonerFails(t *testing.T) {
	t.Parallel()

	src := &fakeSource{dur: 1000}
	c, err := New(1, 1, 0, 0, 0, 1000, src, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Clone(); err == nil {
		t.Error("expected error cloning a clip whose source does not implement Cloner")
	}
}

func TestCloneDetaches(t *testing.T) {
	t.Parallel()

	src := &cloningSource{fakeSource: fakeSource{dur: 1000}}
	c, err := New(1, 9, 0, 0, 0, 1000, src, false)
	if err != nil {
		t.Fatal(err)
	}
	clone, err := c.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone.TrackID() != -1 {
		t.Errorf("clone.TrackID() = %d, want -1", clone.TrackID())
	}
	if clone.ID() != c.ID() {
		t.Errorf("clone.ID() = %d, want %d", clone.ID(), c.ID())
	}
}

type cloningSource struct{ fakeSource }

func (c *cloningSource) CloneSource() (SourceReaderHandle, error) {
	cp := c.fakeSource
	return &cp, nil
}
