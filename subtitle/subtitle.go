// Package subtitle implements the SubtitleTrack consumed interface: a
// Z-ordered list of timed text cues, queried by timestamp and composited
// over the mixed frame at delivery time. It decodes real CEA-608/CEA-708
// closed captions out of H.264/H.265 SEI payloads using ccx; turning a cue's
// text into pixels is delegated to an external Rasterizer collaborator,
// since glyph rendering is outside this module's scope.
package subtitle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/ccx"

	"github.com/opencodewin/mediacore/filter"
	"github.com/opencodewin/mediacore/media"
)

// defaultCueDurationMs is used when a caption's end time cannot be inferred
// (no subsequent cue on the same channel arrived yet).
const defaultCueDurationMs = 4000

// Cue is one timed text span.
type Cue struct {
	StartMs, EndMs int64
	Text           string
	Channel        int
}

// Rasterizer turns a cue's text into a drawable image and the rectangle (in
// output pixel coordinates) it should be placed at. Concrete font
// rendering, layout, and styling live outside this module.
type Rasterizer interface {
	Rasterize(cue Cue) (*media.Frame, filter.Rect, error)
}

// Track is the consumed SubtitleTrack interface: given a timeline
// millisecond position, return the active cue's rasterized image and
// placement rectangle, if any.
type Track interface {
	GetClipByTime(ms int64) (*media.Frame, filter.Rect, bool)
}

// Static is a Track backed by a fixed, pre-built list of cues — e.g. loaded
// from an external timed-text file. Cues must be added in non-decreasing
// StartMs order via Add.
type Static struct {
	mu   sync.RWMutex
	cues []Cue
	rast Rasterizer
}

// NewStatic constructs an empty Static track using rast to rasterize cues
// on lookup.
func NewStatic(rast Rasterizer) *Static {
	return &Static{rast: rast}
}

// Add appends a cue. Cues must be added in non-decreasing StartMs order.
func (s *Static) Add(c Cue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.cues); n > 0 && c.StartMs < s.cues[n-1].StartMs {
		return fmt.Errorf("subtitle: cue out of order: start %d < previous start %d", c.StartMs, s.cues[n-1].StartMs)
	}
	s.cues = append(s.cues, c)
	return nil
}

// GetClipByTime returns the cue active at ms, rasterized, or false if none.
func (s *Static) GetClipByTime(ms int64) (*media.Frame, filter.Rect, bool) {
	s.mu.RLock()
	cue, ok := activeCue(s.cues, ms)
	rast := s.rast
	s.mu.RUnlock()
	if !ok || rast == nil {
		return nil, filter.Rect{}, false
	}
	img, rect, err := rast.Rasterize(cue)
	if err != nil || img == nil {
		return nil, filter.Rect{}, false
	}
	return img, rect, true
}

// activeCue binary-searches cues (sorted by StartMs) for the one covering
// ms.
func activeCue(cues []Cue, ms int64) (Cue, bool) {
	i := sort.Search(len(cues), func(i int) bool { return cues[i].StartMs > ms })
	if i == 0 {
		return Cue{}, false
	}
	c := cues[i-1]
	if ms >= c.StartMs && ms < c.EndMs {
		return c, true
	}
	return Cue{}, false
}

// Caption is a Track fed live from decoded closed-caption SEI payloads. It
// keeps one CEA-608 decoder per channel and one CEA-708 service per
// service number, matching the channel numbering ccx uses (service N maps
// to channel N+6).
type Caption struct {
	mu   sync.RWMutex
	rast Rasterizer

	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service
	dtvcc  []byte

	cuesByChannel map[int][]Cue
}

// NewCaption constructs an empty Caption track using rast to rasterize cues
// on lookup.
func NewCaption(rast Rasterizer) *Caption {
	c := &Caption{
		rast:          rast,
		cea608:        make(map[int]*ccx.CEA608Decoder),
		cea708:        make(map[int]*ccx.CEA708Service),
		cuesByChannel: make(map[int][]Cue),
	}
	for ch := 1; ch <= 4; ch++ {
		c.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		c.cea708[svc] = ccx.NewCEA708Service()
	}
	return c
}

// Ingest decodes one SEI payload (the byte range of an H.264/H.265 user-data
// registered SEI message, as extracted by package decode) captured at
// ptsMs, appending any newly decoded cues.
func (c *Caption) Ingest(seiPayload []byte, ptsMs int64) error {
	cd := ccx.ExtractCaptions(seiPayload)
	if cd == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pair := range cd.CC608Pairs {
		dec := c.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(pair.Data[0], pair.Data[1])
		if text != "" {
			c.appendCueLocked(pair.Channel, ptsMs, text)
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			c.drainDTVCCLocked(ptsMs)
			c.dtvcc = c.dtvcc[:0]
		}
		c.dtvcc = append(c.dtvcc, t.Data[0], t.Data[1])
	}
	return nil
}

func (c *Caption) drainDTVCCLocked(ptsMs int64) {
	if len(c.dtvcc) < 1 {
		return
	}
	size := ccx.DTVCCPacketSize(c.dtvcc[0])
	if len(c.dtvcc) < size {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(c.dtvcc[:size]) {
		svc := c.cea708[block.ServiceNum]
		if svc == nil {
			continue
		}
		if !svc.ProcessBlock(block.Data) {
			continue
		}
		text := svc.DisplayText()
		if text != "" {
			c.appendCueLocked(block.ServiceNum+6, ptsMs, text)
		}
	}
}

// appendCueLocked closes out the previous open cue on channel (if any) at
// ptsMs and opens a new one extending defaultCueDurationMs unless superseded.
func (c *Caption) appendCueLocked(channel int, ptsMs int64, text string) {
	cues := c.cuesByChannel[channel]
	if n := len(cues); n > 0 && cues[n-1].EndMs > ptsMs {
		cues[n-1].EndMs = ptsMs
	}
	c.cuesByChannel[channel] = append(cues, Cue{
		StartMs: ptsMs,
		EndMs:   ptsMs + defaultCueDurationMs,
		Text:    text,
		Channel: channel,
	})
}

// GetClipByTime returns the most recently started active cue across all
// channels at ms, rasterized.
func (c *Caption) GetClipByTime(ms int64) (*media.Frame, filter.Rect, bool) {
	c.mu.RLock()
	var best *Cue
	for _, cues := range c.cuesByChannel {
		if cue, ok := activeCue(cues, ms); ok {
			if best == nil || cue.StartMs > best.StartMs {
				cp := cue
				best = &cp
			}
		}
	}
	rast := c.rast
	c.mu.RUnlock()

	if best == nil || rast == nil {
		return nil, filter.Rect{}, false
	}
	img, rect, err := rast.Rasterize(*best)
	if err != nil || img == nil {
		return nil, filter.Rect{}, false
	}
	return img, rect, true
}
