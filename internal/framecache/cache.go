// Package framecache keeps a durable directory of pre-decoded, pre-scaled
// frames per source video and rebuilds it when its fingerprint goes stale.
//
// Layout: {root}/{video stem}/frame_00000.png ... plus metadata.json.
package framecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/metrics"
)

// FrameExt is the lossless image format used for cached frames.
const FrameExt = ".png"

const framePattern = "frame_%05d" + FrameExt

// DefaultFPS is used when the source does not report a usable frame rate.
const DefaultFPS = 24.0

var (
	// ErrSourceMissing means the source video could not be opened.
	ErrSourceMissing = errors.New("source video missing")
	// ErrDecodeFailure means decoding produced no frames.
	ErrDecodeFailure = errors.New("video decode failed")
	// ErrCacheDir means a cache directory could not be created.
	ErrCacheDir = errors.New("cache directory unavailable")
)

// Params are the rendering parameters a cache is built for.
type Params struct {
	Width    int
	Height   int
	FPSLimit float64 // <= 0 means no limit
}

// Cache is a validated frame cache.
type Cache struct {
	Source string
	Dir    string
	Frames []string // frame paths in temporal order
	Meta   Metadata
	// Rebuilt reports whether this call decoded the video.
	Rebuilt bool
}

// FPS returns the playback frame rate, never zero.
func (c *Cache) FPS() float64 {
	if c.Meta.FPS <= 0 {
		return DefaultFPS
	}
	return c.Meta.FPS
}

// FrameDuration is the fixed time each frame is shown.
func (c *Cache) FrameDuration() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS())
}

// Duration is the full clip length: every frame shown for FrameDuration.
func (c *Cache) Duration() time.Duration {
	return time.Duration(len(c.Frames)) * c.FrameDuration()
}

// Manager owns the cache root.
type Manager struct {
	root    string
	decoder Decoder
	logger  zerolog.Logger
}

// NewManager creates the cache root if needed. Failure is fatal for the
// kiosk: nothing can play without persistent cache storage.
func NewManager(root string, decoder Decoder, logger zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create cache root %s: %v", ErrCacheDir, root, err)
	}
	return &Manager{root: root, decoder: decoder, logger: logger}, nil
}

// Root returns the cache root directory.
func (m *Manager) Root() string {
	return m.root
}

// Dir returns the cache directory for a source video.
func (m *Manager) Dir(source string) string {
	base := filepath.Base(source)
	return filepath.Join(m.root, strings.TrimSuffix(base, filepath.Ext(base)))
}

// Ensure returns a valid cache for source, rebuilding it if the metadata is
// missing or does not match the source mtime and params.
func (m *Manager) Ensure(ctx context.Context, source string, p Params) (*Cache, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceMissing, source, err)
	}

	dir := m.Dir(source)
	meta, err := readMetadata(dir)
	if err != nil {
		m.logger.Warn().Err(err).Str("source", source).Msg("failed to read cache metadata")
	}
	frames, err := listFrames(dir)
	if err != nil {
		m.logger.Warn().Err(err).Str("dir", dir).Msg("failed to list cached frames")
	}

	reason := invalidReason(meta, frames, info, p)
	if reason == "" {
		metrics.CacheHitsTotal.WithLabelValues(filepath.Base(dir)).Inc()
		m.logger.Debug().Str("source", source).Int("frames", len(frames)).Msg("frame cache valid")
		return &Cache{Source: source, Dir: dir, Frames: frames, Meta: *meta}, nil
	}

	m.logger.Info().Str("source", source).Str("reason", reason).Msg("building frame cache")
	return m.rebuild(ctx, source, info, p)
}

// Rebuild discards any existing cache for source and decodes it again.
func (m *Manager) Rebuild(ctx context.Context, source string, p Params) (*Cache, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceMissing, source, err)
	}
	m.logger.Info().Str("source", source).Msg("rebuilding frame cache")
	return m.rebuild(ctx, source, info, p)
}

func (m *Manager) rebuild(ctx context.Context, source string, info os.FileInfo, p Params) (*Cache, error) {
	start := time.Now()
	dir := m.Dir(source)

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("%w: remove %s: %v", ErrCacheDir, dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrCacheDir, dir, err)
	}

	probe, err := m.decoder.Probe(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	fps := playbackFPS(probe.FPS, p.FPSLimit)

	err = m.decoder.Decode(ctx, DecodeRequest{
		Source: source,
		Dir:    dir,
		FPS:    fps,
		Width:  p.Width,
		Height: p.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	frames, err := listFrames(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames decoded from %s", ErrDecodeFailure, source)
	}

	// The container duration can disagree with the decoded frame count
	// when the fps filter rounds, so the clip length is frames over fps.
	duration := float64(len(frames)) / fps

	meta := Metadata{
		FPS:             fps,
		FrameCount:      len(frames),
		DurationSeconds: duration,
		Width:           p.Width,
		Height:          p.Height,
		FPSLimit:        p.FPSLimit,
		SourceMTime:     info.ModTime().UnixNano(),
	}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}

	metrics.CacheRebuildsTotal.WithLabelValues(filepath.Base(dir)).Inc()
	m.logger.Info().
		Str("source", source).
		Int("frames", len(frames)).
		Float64("fps", fps).
		Dur("took", time.Since(start)).
		Msg("frame cache built")

	return &Cache{Source: source, Dir: dir, Frames: frames, Meta: meta, Rebuilt: true}, nil
}

// playbackFPS caps the source rate at limit (if positive).
func playbackFPS(source, limit float64) float64 {
	fps := source
	if fps <= 0 {
		fps = DefaultFPS
	}
	if limit > 0 && fps > limit {
		fps = limit
	}
	return fps
}

// invalidReason returns "" when the cache can be reused.
func invalidReason(meta *Metadata, frames []string, info os.FileInfo, p Params) string {
	switch {
	case meta == nil:
		return "no metadata"
	case len(frames) == 0:
		return "no frames"
	case meta.SourceMTime != info.ModTime().UnixNano():
		return "source modified"
	case meta.Width != p.Width || meta.Height != p.Height:
		return "target size changed"
	case meta.FPSLimit != p.FPSLimit:
		return "fps limit changed"
	case meta.FrameCount != len(frames):
		return "frame count mismatch"
	}
	return ""
}

// listFrames returns cached frame paths in lexical (= temporal) order.
func listFrames(dir string) ([]string, error) {
	frames, err := filepath.Glob(filepath.Join(dir, "frame_*"+FrameExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}
