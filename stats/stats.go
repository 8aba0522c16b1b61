// Package stats accumulates reader-wide telemetry using atomic counters,
// mirroring the distribution layer's demux stats collector: lock-free
// counters for the hot path, a small mutex-guarded window for latency, and
// a point-in-time Snapshot for diagnostics/JSON delivery.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of reader health, JSON-serializable for
// a debug endpoint.
type Snapshot struct {
	FramesProduced  int64   `json:"framesProduced"`
	FramesDropped   int64   `json:"framesDropped"`
	SourceErrors    int64   `json:"sourceErrors"`
	SeekCount       int64   `json:"seekCount"`
	ScrubFrameCount int64   `json:"scrubFrameCount"`
	MixLatencyAvgMs float64 `json:"mixLatencyAvgMs"`
	CacheEvictions  int64   `json:"cacheEvictions"`
	TracksActive    int32   `json:"tracksActive"`
}

// Collector accumulates counters across the lifetime of a MultiTrackReader.
type Collector struct {
	framesProduced  atomic.Int64
	framesDropped   atomic.Int64
	sourceErrors    atomic.Int64
	seekCount       atomic.Int64
	scrubFrameCount atomic.Int64
	cacheEvictions  atomic.Int64
	tracksActive    atomic.Int32

	latMu     sync.Mutex
	latencies []time.Duration
}

// New constructs an empty Collector.
func New() *Collector {
	return &Collector{}
}

// RecordFrameProduced increments the produced-frame counter.
func (c *Collector) RecordFrameProduced() { c.framesProduced.Add(1) }

// RecordFrameDropped increments the dropped-frame counter. The reader's
// own cache evictions are counted by RecordCacheEviction, not here; no
// package in this module calls RecordFrameDropped.
func (c *Collector) RecordFrameDropped() { c.framesDropped.Add(1) }

// RecordSourceError increments the source-error counter. Tracks log source
// read failures without calling it; no package in this module calls it.
func (c *Collector) RecordSourceError() { c.sourceErrors.Add(1) }

// RecordSeek increments the seek counter.
func (c *Collector) RecordSeek() { c.seekCount.Add(1) }

// RecordScrubFrame increments the consecutive-seek (scrub) frame counter.
func (c *Collector) RecordScrubFrame() { c.scrubFrameCount.Add(1) }

// RecordCacheEviction increments the cache-eviction counter.
func (c *Collector) RecordCacheEviction() { c.cacheEvictions.Add(1) }

// SetTracksActive records the current track count.
func (c *Collector) SetTracksActive(n int) { c.tracksActive.Store(int32(n)) }

const maxLatencySamples = 256

// RecordMixLatency appends a mixing-worker latency sample to a bounded
// sliding window.
func (c *Collector) RecordMixLatency(d time.Duration) {
	c.latMu.Lock()
	c.latencies = append(c.latencies, d)
	if len(c.latencies) > maxLatencySamples {
		c.latencies = c.latencies[len(c.latencies)-maxLatencySamples:]
	}
	c.latMu.Unlock()
}

func (c *Collector) meanLatencyMs() float64 {
	c.latMu.Lock()
	defer c.latMu.Unlock()
	if len(c.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range c.latencies {
		total += d
	}
	return float64(total.Milliseconds()) / float64(len(c.latencies))
}

// Snapshot produces a consistent point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FramesProduced:  c.framesProduced.Load(),
		FramesDropped:   c.framesDropped.Load(),
		SourceErrors:    c.sourceErrors.Load(),
		SeekCount:       c.seekCount.Load(),
		ScrubFrameCount: c.scrubFrameCount.Load(),
		MixLatencyAvgMs: c.meanLatencyMs(),
		CacheEvictions:  c.cacheEvictions.Load(),
		TracksActive:    c.tracksActive.Load(),
	}
}
