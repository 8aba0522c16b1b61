// Package reader implements MultiTrackReader, the public facade over a
// track list: it owns the frame-index timeline, the two mixing worker
// goroutines, the cache/eviction policy, seek/scrub modes, and subtitle
// overlay at delivery time.
package reader

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencodewin/mediacore/blend"
	"github.com/opencodewin/mediacore/media"
	"github.com/opencodewin/mediacore/mix"
	"github.com/opencodewin/mediacore/rational"
	"github.com/opencodewin/mediacore/settings"
	"github.com/opencodewin/mediacore/stats"
	"github.com/opencodewin/mediacore/subtitle"
	"github.com/opencodewin/mediacore/task"
	"github.com/opencodewin/mediacore/track"
)

// defaultCacheFrameNum is the default size bound of the seeking-tasks list.
// The normal task list is pruned by position (evictBehindCursorLocked), not
// by this count.
const defaultCacheFrameNum = 4

// workerIdle is the mixing workers' polling sleep when no task advances.
const workerIdle = 20 * time.Millisecond

// Reader is MultiTrackReader: the public entry point for composited frame
// delivery.
type Reader struct {
	log *slog.Logger

	cfgMu    sync.RWMutex
	settings *settings.Settings

	started atomic.Bool
	closed  atomic.Bool

	tracksMu    sync.Mutex
	tracks      []*track.Track
	nextTrackID atomic.Int64

	blender blend.Blender

	subMu     sync.RWMutex
	subtitles []subtitle.Track

	cursor    atomic.Int64
	forward   atomic.Bool
	inSeeking atomic.Bool
	seekAt    atomic.Int64

	cacheFrameNum atomic.Int32

	tasksMu      sync.Mutex
	tasks        []*mix.MixFrameTask
	seekingTasks []*mix.MixFrameTask

	Stats *stats.Collector

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs an unconfigured Reader. Call Configure then Start before
// any other operation.
func New() *Reader {
	r := &Reader{
		log:     slog.With("component", "reader"),
		blender: blend.Software{},
		Stats:   stats.New(),
		quit:    make(chan struct{}),
	}
	r.forward.Store(true)
	r.cacheFrameNum.Store(defaultCacheFrameNum)
	return r
}

// SetBlender overrides the default software blender, e.g. with a
// Vulkan-backed implementation.
func (r *Reader) SetBlender(b blend.Blender) { r.blender = b }

// Configure installs the output settings. May be called again later, but
// UpdateSettings is the supported path once the reader has been started.
func (r *Reader) Configure(s *settings.Settings) error {
	if s == nil {
		return newErr(KindBadConfig, "settings must not be nil", nil)
	}
	r.cfgMu.Lock()
	r.settings = s
	r.cfgMu.Unlock()
	return nil
}

func (r *Reader) requireConfigured() (*settings.Settings, error) {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	if r.settings == nil {
		return nil, newErr(KindBadConfig, "reader not configured", nil)
	}
	return r.settings, nil
}

// Start launches the two mixing worker goroutines. Requires Configure to
// have been called first.
func (r *Reader) Start() error {
	if _, err := r.requireConfigured(); err != nil {
		return err
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.quit
		cancel()
	}()
	r.wg.Add(2)
	go r.runSourceGatingWorker(ctx)
	go r.runMixWorker(ctx)
	return nil
}

// Close stops both mixing workers, closes every track, and clears all task
// lists.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.quit)
	r.wg.Wait()

	r.tracksMu.Lock()
	tracks := r.tracks
	r.tracks = nil
	r.tracksMu.Unlock()
	for _, tr := range tracks {
		tr.Close()
	}

	r.tasksMu.Lock()
	r.tasks = nil
	r.seekingTasks = nil
	r.tasksMu.Unlock()
	return nil
}

func (r *Reader) requireStarted() error {
	if !r.started.Load() {
		return newErr(KindNotStarted, "call Start() first", nil)
	}
	return nil
}

// AddTrack creates a new track and inserts it into the view order.
// insertAfterId == -1 appends at the tail (topmost); -2 inserts at the head
// (bottommost).
func (r *Reader) AddTrack(insertAfterId int64) (*track.Track, error) {
	s, err := r.requireConfigured()
	if err != nil {
		return nil, err
	}
	id := r.nextTrackID.Add(1)
	blendFn := func(base, overlay *media.Frame, opacity float64) (*media.Frame, error) {
		return r.blender.Blend(base, overlay, 0, 0, opacity)
	}
	tr := track.New(id, s.Rate(), blendFn)

	r.tracksMu.Lock()
	defer r.tracksMu.Unlock()

	switch insertAfterId {
	case -2:
		r.tracks = append([]*track.Track{tr}, r.tracks...)
	case -1:
		r.tracks = append(r.tracks, tr)
	default:
		idx := -1
		for i, t := range r.tracks {
			if t.ID() == insertAfterId {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, newErr(KindNotFound, "insertAfterId track not found", nil)
		}
		r.tracks = append(r.tracks[:idx+1], append([]*track.Track{tr}, r.tracks[idx+1:]...)...)
	}

	if r.started.Load() {
		ctx, cancel := context.WithCancel(context.Background())
		go func() { <-r.quit; cancel() }()
		tr.Start(ctx)
	}
	r.Stats.SetTracksActive(len(r.tracks))
	return tr, nil
}

// RemoveTrackById removes and closes the track with the given id.
func (r *Reader) RemoveTrackById(id int64) error {
	r.tracksMu.Lock()
	defer r.tracksMu.Unlock()
	idx := -1
	for i, t := range r.tracks {
		if t.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return newErr(KindNotFound, "track not found", nil)
	}
	tr := r.tracks[idx]
	r.tracks = append(r.tracks[:idx], r.tracks[idx+1:]...)
	r.Stats.SetTracksActive(len(r.tracks))
	return tr.Close()
}

// ChangeTrackViewOrder moves track id to position newIndex (0 = bottommost)
// in the view-order list.
func (r *Reader) ChangeTrackViewOrder(id int64, newIndex int) error {
	r.tracksMu.Lock()
	defer r.tracksMu.Unlock()
	idx := -1
	for i, t := range r.tracks {
		if t.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return newErr(KindNotFound, "track not found", nil)
	}
	if newIndex < 0 || newIndex >= len(r.tracks) {
		return newErr(KindNotFound, "newIndex out of range", nil)
	}
	tr := r.tracks[idx]
	r.tracks = append(r.tracks[:idx], r.tracks[idx+1:]...)
	tail := append([]*track.Track{tr}, r.tracks[newIndex:]...)
	r.tracks = append(r.tracks[:newIndex], tail...)
	return nil
}

// SetTrackVisible toggles a track's contribution to mixing.
func (r *Reader) SetTrackVisible(id int64, visible bool) error {
	tr, err := r.findTrack(id)
	if err != nil {
		return err
	}
	tr.SetVisible(visible)
	return nil
}

// IsTrackVisible reports a track's visibility.
func (r *Reader) IsTrackVisible(id int64) (bool, error) {
	tr, err := r.findTrack(id)
	if err != nil {
		return false, err
	}
	return tr.IsVisible(), nil
}

func (r *Reader) findTrack(id int64) (*track.Track, error) {
	r.tracksMu.Lock()
	defer r.tracksMu.Unlock()
	for _, t := range r.tracks {
		if t.ID() == id {
			return t, nil
		}
	}
	return nil, newErr(KindNotFound, "track not found", nil)
}

func (r *Reader) snapshotTracks() []*track.Track {
	r.tracksMu.Lock()
	defer r.tracksMu.Unlock()
	out := make([]*track.Track, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// MillsecToFrameIndex converts ms to a frame index at the reader's rate,
// using the given rounding mode.
func (r *Reader) MillsecToFrameIndex(ms int64, mode rational.RoundMode) (int64, error) {
	s, err := r.requireConfigured()
	if err != nil {
		return 0, err
	}
	return rational.MillisecToFrameIndex(ms, s.Rate(), mode), nil
}

// FrameIndexToMillsec converts a frame index back to milliseconds.
func (r *Reader) FrameIndexToMillsec(idx int64) (int64, error) {
	s, err := r.requireConfigured()
	if err != nil {
		return 0, err
	}
	return rational.FrameIndexToMillisec(idx, s.Rate()), nil
}

// GetCacheFrameNum returns the configured pre-read window size.
func (r *Reader) GetCacheFrameNum() int { return int(r.cacheFrameNum.Load()) }

// SetCacheFrameNum overrides the size bound of the seeking-tasks list;
// values <= 0 are ignored.
func (r *Reader) SetCacheFrameNum(n int) {
	if n > 0 {
		r.cacheFrameNum.Store(int32(n))
	}
}

// SetDirection toggles forward/reverse playback on every track and
// re-seeds the task queue from pos.
func (r *Reader) SetDirection(forward bool, pos int64) error {
	if err := r.requireStarted(); err != nil {
		return err
	}
	r.forward.Store(forward)
	for _, tr := range r.snapshotTracks() {
		tr.SetDirection(forward)
	}
	r.cursor.Store(pos)
	r.clearTasks()
	return nil
}

// SeekToByIdx repositions the read cursor to idx, discarding the whole
// queue when idx lies behind the previous cursor in the current direction.
// force always clears the queue, even when idx is already near the cursor.
func (r *Reader) SeekToByIdx(idx int64, force bool) error {
	if err := r.requireStarted(); err != nil {
		return err
	}
	prev := r.cursor.Swap(idx)
	if force || r.wrongSide(prev, idx) {
		r.clearTasks()
	}
	r.Stats.RecordSeek()
	return nil
}

// SeekTo repositions the read cursor to the frame index nearest pos
// milliseconds.
func (r *Reader) SeekTo(ms int64, force bool) error {
	idx, err := r.MillsecToFrameIndex(ms, rational.Round)
	if err != nil {
		return err
	}
	return r.SeekToByIdx(idx, force)
}

func (r *Reader) wrongSide(prev, next int64) bool {
	if r.forward.Load() {
		return next < prev
	}
	return next > prev
}

func (r *Reader) clearTasks() {
	r.tasksMu.Lock()
	for _, mt := range r.tasks {
		mt.Discard()
	}
	r.tasks = nil
	r.tasksMu.Unlock()
}

// ConsecutiveSeek enters scrub mode: subsequent seeks enqueue into a
// separate seeking-tasks list instead of disturbing the normal task queue.
func (r *Reader) ConsecutiveSeek(ms int64) error {
	if err := r.requireStarted(); err != nil {
		return err
	}
	idx, err := r.MillsecToFrameIndex(ms, rational.Round)
	if err != nil {
		return err
	}
	r.inSeeking.Store(true)
	r.seekAt.Store(idx)
	r.Stats.RecordScrubFrame()
	r.enqueueSeekingTask(idx)
	return nil
}

// StopConsecutiveSeek ends scrub mode, merging the seeking-tasks list into
// the normal queue with the scrubbed target promoted to the cache head.
func (r *Reader) StopConsecutiveSeek() error {
	if !r.inSeeking.CompareAndSwap(true, false) {
		return nil
	}
	target := r.seekAt.Load()

	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()

	sort.Slice(r.seekingTasks, func(i, j int) bool {
		di := absInt64(r.seekingTasks[i].FrameIndex - target)
		dj := absInt64(r.seekingTasks[j].FrameIndex - target)
		return di < dj
	})
	r.tasks = append(r.seekingTasks, r.tasks...)
	r.seekingTasks = nil
	r.cursor.Store(target)
	return nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (r *Reader) enqueueSeekingTask(idx int64) {
	mt := r.buildMixTask(idx, true, true)

	r.tasksMu.Lock()
	r.seekingTasks = append(r.seekingTasks, mt)
	if n := int(r.cacheFrameNum.Load()); len(r.seekingTasks) > n {
		evicted := r.seekingTasks[:len(r.seekingTasks)-n]
		r.seekingTasks = r.seekingTasks[len(r.seekingTasks)-n:]
		for _, e := range evicted {
			if !e.IsOutputReady() {
				e.Discard()
				r.Stats.RecordCacheEviction()
			}
		}
	}
	r.tasksMu.Unlock()
}

// buildMixTask constructs a MixFrameTask for frameIndex, creating one
// ReadFrameTask per track. Tracks are tagged with their current view-order
// index (bottom = 0) so compositing Z-order follows ChangeTrackViewOrder
// rather than track id.
func (r *Reader) buildMixTask(frameIndex int64, canDrop, needSeek bool) *mix.MixFrameTask {
	mt := mix.New(frameIndex)
	for i, tr := range r.snapshotTracks() {
		rt := tr.CreateReadFrameTask(frameIndex, canDrop, needSeek, false, mt)
		mt.AddTrackTask(tr.ID(), i, rt)
	}
	return mt
}

// findOrCreateTask returns the task for frameIndex from the normal queue,
// creating and enqueueing one (with eviction of tasks now behind the
// cursor) if absent.
func (r *Reader) findOrCreateTask(frameIndex int64) *mix.MixFrameTask {
	r.tasksMu.Lock()
	for _, mt := range r.tasks {
		if mt.FrameIndex == frameIndex {
			r.tasksMu.Unlock()
			return mt
		}
	}
	if n := len(r.tasks); n > 0 {
		tail := r.tasks[n-1]
		if r.wrongSide(tail.FrameIndex, frameIndex) {
			for _, mt := range r.tasks {
				mt.Discard()
			}
			r.tasks = nil
		}
	}
	r.tasksMu.Unlock()

	mt := r.buildMixTask(frameIndex, true, false)

	r.tasksMu.Lock()
	r.tasks = append(r.tasks, mt)
	r.evictBehindCursorLocked(frameIndex)
	r.tasksMu.Unlock()
	return mt
}

// evictBehindCursorLocked drops queued tasks whose frame index sits behind
// the read cursor in the current direction, except the one just delivered.
// Must be called with tasksMu held.
func (r *Reader) evictBehindCursorLocked(justDelivered int64) {
	kept := r.tasks[:0]
	for _, mt := range r.tasks {
		behind := false
		if r.forward.Load() {
			behind = mt.FrameIndex < r.cursor.Load() && mt.FrameIndex != justDelivered
		} else {
			behind = mt.FrameIndex > r.cursor.Load() && mt.FrameIndex != justDelivered
		}
		if behind {
			mt.Discard()
			r.Stats.RecordCacheEviction()
			continue
		}
		kept = append(kept, mt)
	}
	r.tasks = kept
}

// ReadVideoFrameByIdx reads the frame at frameIndex. precise blocks until
// the exact task is OutputReady; non-precise (nonblocking semantics)
// returns the nearest cached output without waiting, reporting false if
// none is ready yet.
func (r *Reader) ReadVideoFrameByIdx(ctx context.Context, frameIndex int64, precise bool) (*media.Frame, []media.CorrelativeFrame, bool, error) {
	if err := r.requireStarted(); err != nil {
		return nil, nil, false, err
	}

	var mt *mix.MixFrameTask
	if r.inSeeking.Load() {
		r.enqueueSeekingTask(frameIndex)
		mt = r.nearestSeekingTask(frameIndex)
	} else {
		mt = r.findOrCreateTask(frameIndex)
	}
	if mt == nil {
		return nil, nil, false, nil
	}

	if !precise {
		if mt.IsOutputReady() {
			return mt.Output(), mt.Correlatives(), true, nil
		}
		if nearest := r.nearestReadyTask(frameIndex); nearest != nil {
			return nearest.Output(), nearest.Correlatives(), true, nil
		}
		return nil, nil, false, nil
	}

	for !mt.IsOutputReady() {
		select {
		case <-ctx.Done():
			return nil, nil, false, newErr(KindCancelled, "context done while waiting for frame", ctx.Err())
		case <-r.quit:
			return nil, nil, false, newErr(KindCancelled, "reader closed while waiting for frame", nil)
		case <-time.After(workerIdle):
		}
	}
	r.cursor.Store(frameIndex)
	return mt.Output(), mt.Correlatives(), true, nil
}

// nearestReadyTask returns the output-ready task in r.tasks nearest target,
// for non-precise reads that fall back to the nearest cached frame instead
// of blocking when the exact frame isn't ready yet.
func (r *Reader) nearestReadyTask(target int64) *mix.MixFrameTask {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	var best *mix.MixFrameTask
	bestDist := int64(-1)
	for _, mt := range r.tasks {
		if !mt.IsOutputReady() {
			continue
		}
		d := absInt64(mt.FrameIndex - target)
		if best == nil || d < bestDist {
			best, bestDist = mt, d
		}
	}
	return best
}

func (r *Reader) nearestSeekingTask(target int64) *mix.MixFrameTask {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	var best *mix.MixFrameTask
	bestDist := int64(-1)
	for _, mt := range r.seekingTasks {
		if !mt.IsOutputReady() {
			continue
		}
		d := absInt64(mt.FrameIndex - target)
		if best == nil || d < bestDist {
			best, bestDist = mt, d
		}
	}
	return best
}

// ReadVideoFrameByPos is the millisecond-position overload of
// ReadVideoFrameByIdx.
func (r *Reader) ReadVideoFrameByPos(ctx context.Context, ms int64, precise bool) (*media.Frame, []media.CorrelativeFrame, bool, error) {
	idx, err := r.MillsecToFrameIndex(ms, rational.Round)
	if err != nil {
		return nil, nil, false, err
	}
	return r.ReadVideoFrameByIdx(ctx, idx, precise)
}

// ReadNextVideoFrame advances the read cursor by one frame (in the current
// direction) and reads it, blocking until ready.
func (r *Reader) ReadNextVideoFrame(ctx context.Context) (*media.Frame, []media.CorrelativeFrame, bool, error) {
	step := int64(1)
	if !r.forward.Load() {
		step = -1
	}
	cur := r.cursor.Load()
	next := cur + step
	if next < 0 {
		// Reverse playback at the timeline start has no defined "next" frame;
		// hold at index 0 rather than walking into negative indices.
		next = 0
	}
	return r.ReadVideoFrameByIdx(ctx, next, true)
}

// composeWithSubtitle alpha-blends per-track frames in reverse track order
// (bottom first, top last), then overlays the active subtitle cues.
func (r *Reader) composeWithSubtitle(mt *mix.MixFrameTask) *media.Frame {
	s, err := r.requireConfigured()
	if err != nil {
		return nil
	}
	var out *media.Frame
	for _, tt := range mt.Tracks() {
		if !tt.Task.IsVisible() {
			continue
		}
		f := tt.Task.Output()
		if f == nil || f.IsBlank() {
			continue
		}
		if out == nil && f.Opacity >= 1 && f.Width == s.Width() && f.Height == s.Height() {
			out = f
			continue
		}
		blended, err := r.blender.Blend(out, f, 0, 0, f.Opacity)
		if err != nil {
			r.log.Warn("blend failed", "error", err)
			continue
		}
		out = blended
	}
	if out == nil {
		out = media.NewFrame(s.Width(), s.Height(), s.ElementType())
	}
	tsMs := rational.FrameIndexToMillisec(mt.FrameIndex, s.Rate())
	out.TimestampMs = tsMs

	for _, sub := range r.snapshotSubtitles() {
		img, rect, ok := sub.GetClipByTime(tsMs)
		if !ok {
			continue
		}
		blended, err := r.blender.Blend(out, img, int(rect.X), int(rect.Y), 1.0)
		if err == nil {
			out = blended
		}
	}

	mt.UpdateOutputFrames([]media.CorrelativeFrame{{
		CorrelativeKey: media.CorrelativeKey{Phase: media.PhaseAfterMixing, ClipID: -1, TrackID: -1},
		Image:          out,
	}})
	r.Stats.RecordFrameProduced()
	return out
}

// AddSubtitleTrack appends a subtitle track to the Z-ordered overlay list.
func (r *Reader) AddSubtitleTrack(t subtitle.Track) {
	r.subMu.Lock()
	r.subtitles = append(r.subtitles, t)
	r.subMu.Unlock()
}

// RemoveSubtitleTrack removes the subtitle track at index idx.
func (r *Reader) RemoveSubtitleTrack(idx int) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if idx < 0 || idx >= len(r.subtitles) {
		return newErr(KindNotFound, "subtitle track index out of range", nil)
	}
	r.subtitles = append(r.subtitles[:idx], r.subtitles[idx+1:]...)
	return nil
}

func (r *Reader) snapshotSubtitles() []subtitle.Track {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	out := make([]subtitle.Track, len(r.subtitles))
	copy(out, r.subtitles)
	return out
}

// UpdateSettings applies new settings, rejecting any change to frame rate,
// color format, or element type while workers are live; geometry changes
// propagate immediately.
func (r *Reader) UpdateSettings(s *settings.Settings) error {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	if r.settings != nil && r.started.Load() && !r.settings.ImmutableFieldsEqual(s) {
		return newErr(KindBadConfig, "cannot change rate/format/element-type while workers are live", nil)
	}
	if r.settings == nil {
		r.settings = s
		return nil
	}
	if err := r.settings.SetGeometry(s.Width(), s.Height()); err != nil {
		return newErr(KindBadConfig, "invalid geometry", err)
	}
	return nil
}

// runSourceGatingWorker is Worker-A: for every active task whose per-track
// ReadFrameTasks have all reached SourceReady, trigger StartAll.
func (r *Reader) runSourceGatingWorker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		advanced := false
		for _, mt := range r.activeTasks() {
			if mt.HasStarted() {
				continue
			}
			if mt.AllSourceReady() {
				mt.StartAll()
				advanced = true
			}
		}
		if !advanced {
			select {
			case <-time.After(workerIdle):
			case <-ctx.Done():
				return
			}
		}
	}
}

// runMixWorker is Worker-B: for every started, not-yet-output-ready task
// whose sub-tasks are all OutputReady, compose the mixed frame.
func (r *Reader) runMixWorker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		advanced := false
		for _, mt := range r.activeTasks() {
			if mt.IsOutputReady() || !mt.HasStarted() {
				continue
			}
			if mt.AllOutputReady() {
				start := time.Now()
				frame := r.composeWithSubtitle(mt)
				mt.SetOutput(frame)
				r.Stats.RecordMixLatency(time.Since(start))
				advanced = true
			}
		}
		if !advanced {
			select {
			case <-time.After(workerIdle):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Reader) activeTasks() []*mix.MixFrameTask {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	out := make([]*mix.MixFrameTask, 0, len(r.tasks)+len(r.seekingTasks))
	out = append(out, r.tasks...)
	out = append(out, r.seekingTasks...)
	return out
}

var _ task.Host = (*mix.MixFrameTask)(nil)
