package stats

import (
	"testing"
	"time"
)

func TestCollectorCounters(t *testing.T) {
	t.Parallel()

	c := New()
	c.RecordFrameProduced()
	c.RecordFrameProduced()
	c.RecordFrameDropped()
	c.RecordSourceError()
	c.RecordSeek()
	c.RecordScrubFrame()
	c.RecordCacheEviction()
	c.SetTracksActive(3)
	c.RecordMixLatency(10 * time.Millisecond)
	c.RecordMixLatency(20 * time.Millisecond)

	snap := c.Snapshot()
	if snap.FramesProduced != 2 {
		t.Errorf("FramesProduced = %d, want 2", snap.FramesProduced)
	}
	if snap.FramesDropped != 1 || snap.SourceErrors != 1 || snap.SeekCount != 1 {
		t.Errorf("counters = %+v", snap)
	}
	if snap.TracksActive != 3 {
		t.Errorf("TracksActive = %d, want 3", snap.TracksActive)
	}
	if snap.MixLatencyAvgMs != 15 {
		t.Errorf("MixLatencyAvgMs = %v, want 15", snap.MixLatencyAvgMs)
	}
}

func TestMixLatencyWindowBounded(t *testing.T) {
	t.Parallel()

	c := New()
	for i := 0; i < maxLatencySamples+50; i++ {
		c.RecordMixLatency(time.Millisecond)
	}
	if len(c.latencies) != maxLatencySamples {
		t.Errorf("latency window len = %d, want %d", len(c.latencies), maxLatencySamples)
	}
}
