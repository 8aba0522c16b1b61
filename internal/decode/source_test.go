package decode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// buildAnnexBFixture returns a minimal, bit-accurate H.264 Annex B stream:
// one SPS (profile 66, encoding 64x48), one SEI, and one IDR slice.
func buildAnnexBFixture(t *testing.T) string {
	t.Helper()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E, 0xDA, 0x11, 0xC8, // SPS
		0x00, 0x00, 0x00, 0x01, 0x06, 0x01, 0x02, 0x03, // SEI
		0x00, 0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB, // IDR slice
	}
	path := filepath.Join(t.TempDir(), "fixture.h264")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFileRecoversGeometryAndFrames(t *testing.T) {
	t.Parallel()

	path := buildAnnexBFixture(t)
	ps, err := parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if ps.width != 64 || ps.height != 48 {
		t.Fatalf("geometry = %dx%d, want 64x48", ps.width, ps.height)
	}
	if len(ps.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(ps.frames))
	}
	if !ps.frames[0].isKey {
		t.Error("expected the single frame to be a keyframe")
	}
	if len(ps.frames[0].seiPayloads) != 1 {
		t.Fatalf("sei payloads = %d, want 1", len(ps.frames[0].seiPayloads))
	}
}

func TestFileSourceReadFrame(t *testing.T) {
	t.Parallel()

	path := buildAnnexBFixture(t)
	src, err := NewFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	frame, ok, err := src.ReadFrame(0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || frame == nil {
		t.Fatal("expected a frame at position 0")
	}
	if frame.Width != 64 || frame.Height != 48 {
		t.Errorf("frame geometry = %dx%d, want 64x48", frame.Width, frame.Height)
	}
	if frame.IsBlank() {
		t.Error("expected a non-blank synthetic frame")
	}

	if _, ok, _ := src.ReadFrame(int64(len(src.stream.frames))*defaultFrameDurationMs, false); ok {
		t.Error("expected no frame past the end of the stream")
	}
}

func TestFileSourceSEIPayloadsAt(t *testing.T) {
	t.Parallel()

	path := buildAnnexBFixture(t)
	src, err := NewFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	sei := src.SEIPayloadsAt(0)
	if len(sei) != 1 {
		t.Fatalf("sei payloads = %d, want 1", len(sei))
	}
}

func TestFileSourceCloneSourceIndependentDirection(t *testing.T) {
	t.Parallel()

	path := buildAnnexBFixture(t)
	src, err := NewFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	src.SetDirection(false)
	clonedAny, err := src.CloneSource()
	if err != nil {
		t.Fatal(err)
	}
	cloned := clonedAny.(*FileSource)
	if !cloned.reverse {
		t.Error("expected cloned source to carry the reverse flag forward")
	}
	cloned.SetDirection(true)
	if src.reverse != true {
		t.Error("direction change on the original should be independent of the clone's mutation above")
	}
}

func TestParserOpenReportsStreamInfo(t *testing.T) {
	t.Parallel()

	path := buildAnnexBFixture(t)
	info, err := Parser{}.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 64 || info.Height != 48 {
		t.Errorf("StreamInfo geometry = %dx%d, want 64x48", info.Width, info.Height)
	}
	if info.DurationMs != defaultFrameDurationMs {
		t.Errorf("DurationMs = %d, want %d", info.DurationMs, defaultFrameDurationMs)
	}
}

func TestParseAnnexBHEVCSplitsUnits(t *testing.T) {
	t.Parallel()

	data := []byte{
		0x00, 0x00, 0x01, 0x4E, 0x01, 0xAA, 0xBB, // some 2-byte-header NAL
		0x00, 0x00, 0x01, 0x26, 0x01, 0xCC, // another
	}
	units := parseAnnexBHEVC(data)
	if len(units) != 2 {
		t.Fatalf("units = %d, want 2", len(units))
	}
}
