// Package playback walks a validated frame cache forward in wall-clock
// time. It performs no decoding; frames are read from the cache on demand
// and the current one is held in memory.
package playback

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/framecache"
	"github.com/sweeney/book-kiosk/internal/metrics"
)

// ErrFrameLoad means a cached frame could not be loaded even after the
// cache was rebuilt once.
var ErrFrameLoad = errors.New("frame load failed")

// Ensurer provides validated caches. *framecache.Manager implements it.
type Ensurer interface {
	Ensure(ctx context.Context, source string, p framecache.Params) (*framecache.Cache, error)
	Rebuild(ctx context.Context, source string, p framecache.Params) (*framecache.Cache, error)
}

// Stream plays one source video. It is created once per page and reset
// every time that page becomes active.
type Stream struct {
	source  string
	params  framecache.Params
	ensurer Ensurer
	load    Loader
	logger  zerolog.Logger

	cache    *framecache.Cache
	index    int
	acc      time.Duration
	elapsed  time.Duration
	finished bool
	frame    image.Image
}

// NewStream creates a stream for source. A nil loader means LoadPNG.
func NewStream(ensurer Ensurer, source string, p framecache.Params, load Loader, logger zerolog.Logger) *Stream {
	if load == nil {
		load = LoadPNG
	}
	return &Stream{
		source:   source,
		params:   p,
		ensurer:  ensurer,
		load:     load,
		logger:   logger.With().Str("source", source).Logger(),
		finished: true,
	}
}

// Source returns the video path this stream plays.
func (s *Stream) Source() string { return s.source }

// Reset validates the cache and rewinds to frame 0, loading it eagerly.
func (s *Stream) Reset(ctx context.Context) error {
	cache, err := s.ensurer.Ensure(ctx, s.source, s.params)
	if err != nil {
		return err
	}
	if len(cache.Frames) == 0 {
		return fmt.Errorf("%w: no cached frames for %s", framecache.ErrDecodeFailure, s.source)
	}
	s.cache = cache
	s.acc = 0
	s.elapsed = 0
	s.index = 0
	s.finished = false
	s.frame = nil
	return s.loadFrame(ctx, 0)
}

// Advance moves playback forward by dt and returns the frame to show.
// At the end of the clip the last frame is held. The returned image is
// only reloaded when a frame boundary is crossed.
func (s *Stream) Advance(ctx context.Context, dt time.Duration) (image.Image, error) {
	if s.cache == nil || len(s.cache.Frames) == 0 || s.finished {
		return s.frame, nil
	}

	fd := s.cache.FrameDuration()
	s.acc += dt
	for s.acc >= fd && !s.finished {
		s.acc -= fd
		next := s.index + 1
		if next >= len(s.cache.Frames) {
			s.finished = true
			s.index = len(s.cache.Frames) - 1
			s.acc = 0
			continue
		}
		if err := s.loadFrame(ctx, next); err != nil {
			return s.frame, err
		}
	}

	if s.finished && s.frame == nil {
		if err := s.loadFrame(ctx, s.index); err != nil {
			return nil, err
		}
	}

	if s.finished {
		s.elapsed = s.cache.Duration()
	} else {
		s.elapsed = time.Duration(s.index)*fd + min(s.acc, fd)
	}
	return s.frame, nil
}

// Close drops the in-memory frame. Cache files stay on disk.
func (s *Stream) Close() {
	s.acc = 0
	s.elapsed = 0
	s.index = 0
	s.finished = true
	s.frame = nil
}

// Frame returns the currently held frame, or nil.
func (s *Stream) Frame() image.Image { return s.frame }

// Index returns the current frame index.
func (s *Stream) Index() int { return s.index }

// Elapsed returns the playback position.
func (s *Stream) Elapsed() time.Duration { return s.elapsed }

// Finished reports whether the stream is holding its last frame.
func (s *Stream) Finished() bool { return s.finished }

// Duration returns the clip length, or zero before the first Reset.
func (s *Stream) Duration() time.Duration {
	if s.cache == nil {
		return 0
	}
	return s.cache.Duration()
}

// loadFrame reads frame index into memory. A failed read triggers one
// cache rebuild and a single retry.
func (s *Stream) loadFrame(ctx context.Context, index int) error {
	img, err := s.read(index)
	if err == nil {
		s.frame = img
		s.index = index
		return nil
	}

	s.logger.Error().Err(err).Int("frame", index).Msg("failed to load cached frame, rebuilding cache")
	cache, rerr := s.ensurer.Rebuild(ctx, s.source, s.params)
	if rerr != nil {
		return fmt.Errorf("%w: %s frame %d: rebuild: %w", ErrFrameLoad, s.source, index, rerr)
	}
	if len(cache.Frames) == 0 {
		return fmt.Errorf("%w: %s: rebuilt cache is empty", ErrFrameLoad, s.source)
	}
	s.cache = cache
	index = min(index, len(cache.Frames)-1)

	img, err = s.read(index)
	if err != nil {
		return fmt.Errorf("%w: %s frame %d: %w", ErrFrameLoad, s.source, index, err)
	}
	s.frame = img
	s.index = index
	return nil
}

func (s *Stream) read(index int) (image.Image, error) {
	img, err := s.load(s.cache.Frames[index], s.params.Width, s.params.Height)
	if err != nil {
		metrics.FrameLoadFailuresTotal.Inc()
		return nil, err
	}
	metrics.FrameLoadsTotal.Inc()
	return img, nil
}
