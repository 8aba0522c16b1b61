// Command mediacoredemo drives a MultiTrackReader against a single Annex B
// elementary stream on disk: it builds one track with one clip spanning the
// file, walks frames forward via ReadNextVideoFrame, ingests any SEI caption
// payloads recovered during parsing, and serves the reader's stats snapshot
// over HTTP for inspection.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencodewin/mediacore/clip"
	"github.com/opencodewin/mediacore/internal/decode"
	"github.com/opencodewin/mediacore/media"
	"github.com/opencodewin/mediacore/rational"
	"github.com/opencodewin/mediacore/reader"
	"github.com/opencodewin/mediacore/settings"
	"github.com/opencodewin/mediacore/subtitle"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	path := envOr("MEDIA_PATH", "")
	if path == "" {
		slog.Error("MEDIA_PATH is required")
		os.Exit(1)
	}
	apiAddr := envOr("API_ADDR", ":8090")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	info, err := decode.Parser{}.Open(ctx, path)
	if err != nil {
		slog.Error("failed to open media", "path", path, "error", err)
		os.Exit(1)
	}
	slog.Info("media opened", "path", path, "width", info.Width, "height", info.Height, "durationMs", info.DurationMs)

	s, err := settings.New(info.Width, info.Height, rational.Rate{Num: 1000, Den: syntheticFrameDurationMs}, media.PixelRGBA, media.ElementINT8)
	if err != nil {
		slog.Error("invalid settings", "error", err)
		os.Exit(1)
	}

	r := reader.New()
	if err := r.Configure(s); err != nil {
		slog.Error("configure failed", "error", err)
		os.Exit(1)
	}
	if err := r.Start(); err != nil {
		slog.Error("start failed", "error", err)
		os.Exit(1)
	}
	defer r.Close()

	src, err := decode.NewFileSource(path)
	if err != nil {
		slog.Error("failed to parse source", "error", err)
		os.Exit(1)
	}

	tr, err := r.AddTrack(-1)
	if err != nil {
		slog.Error("add track failed", "error", err)
		os.Exit(1)
	}
	c, err := clip.New(1, tr.ID(), 0, 0, 0, info.DurationMs, src, info.IsImage)
	if err != nil {
		slog.Error("build clip failed", "error", err)
		os.Exit(1)
	}
	if err := tr.InsertClip(c); err != nil {
		slog.Error("insert clip failed", "error", err)
		os.Exit(1)
	}

	captions := subtitle.NewCaption(nil)
	ingestCaptions(captions, src, info.DurationMs)
	r.AddSubtitleTrack(captions)

	apiSrv := &http.Server{
		Addr:    apiAddr,
		Handler: statsHandler(r),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("stats API listening", "addr", apiAddr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return playThrough(ctx, r, info.DurationMs)
	})

	if err := g.Wait(); err != nil {
		slog.Error("demo error", "error", err)
		os.Exit(1)
	}
}

// syntheticFrameDurationMs mirrors decode.defaultFrameDurationMs: the decode
// package reports one synthetic picture per this many milliseconds, so the
// reader's timebase must match it to index frames correctly.
const syntheticFrameDurationMs = 33

// ingestCaptions feeds every frame's recovered SEI payloads into the
// caption track so any embedded CEA-608/708 cues surface during playback.
func ingestCaptions(captions *subtitle.Caption, src *decode.FileSource, durationMs int64) {
	for ms := int64(0); ms < durationMs; ms += syntheticFrameDurationMs {
		for _, payload := range src.SEIPayloadsAt(ms) {
			if err := captions.Ingest(payload, ms); err != nil {
				slog.Debug("caption ingest skipped", "ms", ms, "error", err)
			}
		}
	}
}

// playThrough walks the timeline forward via ReadNextVideoFrame until the
// cursor passes durationMs or ctx is cancelled, logging progress every
// second of frames produced. Past the clip's end the reader keeps resolving
// tasks to a blank frame with ok=true, so EOF must be judged against the
// known duration rather than ok alone.
func playThrough(ctx context.Context, r *reader.Reader, durationMs int64) error {
	frames := 0
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		pos, err := r.FrameIndexToMillsec(int64(frames))
		if err == nil && pos >= durationMs {
			slog.Info("playback complete", "frames", frames)
			return nil
		}
		_, _, ok, err := r.ReadNextVideoFrame(ctx)
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("playback complete", "frames", frames)
			return nil
		}
		frames++
		if time.Since(last) >= time.Second {
			slog.Info("playing", "frames", frames)
			last = time.Now()
		}
	}
}

func statsHandler(r *reader.Reader) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.Stats.Snapshot())
	})
	return mux
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
