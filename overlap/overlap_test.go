package overlap

import (
	"testing"

	"github.com/opencodewin/mediacore/clip"
	"github.com/opencodewin/mediacore/media"
)

type noopSource struct{}

func (noopSource) ReadFrame(int64, bool) (*media.Frame, bool, error) { return nil, false, nil }
func (noopSource) SeekTo(int64) error                                { return nil }
func (noopSource) SetDirection(bool)                                 {}
func (noopSource) Duration() int64                                   { return 1000 }
func (noopSource) Close() error                                      { return nil }

func mustClip(t *testing.T, id, start, dur int64) *clip.Clip {
	t.Helper()
	c, err := clip.New(id, 1, start, 0, 0, dur, noopSource{}, false)
	if err != nil {
		t.Fatalf("clip.New: %v", err)
	}
	return c
}

func TestHasOverlap(t *testing.T) {
	t.Parallel()
	if !HasOverlap(0, 1000, 700, 1700) {
		t.Error("expected overlap")
	}
	if HasOverlap(0, 700, 700, 1700) {
		t.Error("touching ranges [0,700) and [700,1700) must not overlap")
	}
}

func TestNewOrdersFrontRear(t *testing.T) {
	t.Parallel()
	a := mustClip(t, 1, 700, 1000) // [700,1700)
	b := mustClip(t, 2, 0, 1000)   // [0,1000)
	o, err := New(a, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if o.Front.ID() != 2 || o.Rear.ID() != 1 {
		t.Errorf("Front=%d Rear=%d, want Front=2 Rear=1", o.Front.ID(), o.Rear.ID())
	}
	if o.Start() != 700 || o.End() != 1000 {
		t.Errorf("window = [%d,%d), want [700,1000)", o.Start(), o.End())
	}
}

func TestNewRejectsNonOverlapping(t *testing.T) {
	t.Parallel()
	a := mustClip(t, 1, 0, 500)
	b := mustClip(t, 2, 1000, 500)
	if _, err := New(a, b); err == nil {
		t.Error("expected error for non-intersecting clips")
	}
}

func TestContains(t *testing.T) {
	t.Parallel()
	a := mustClip(t, 1, 0, 1000)
	b := mustClip(t, 2, 700, 1000)
	o, err := New(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !o.Contains(850) || o.Contains(699) || o.Contains(1000) {
		t.Errorf("Contains boundary mismatch for window [%d,%d)", o.Start(), o.End())
	}
}
