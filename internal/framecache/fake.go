package framecache

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

// FakeDecoder writes solid-colour PNG frames instead of running ffmpeg.
type FakeDecoder struct {
	mu sync.Mutex

	// SourceFPS and DurationSeconds are returned by Probe.
	SourceFPS       float64
	DurationSeconds float64

	// Frames is how many frames Decode writes. Zero writes none.
	Frames int

	// ProbeError and DecodeError, if set, are returned by the matching call.
	ProbeError  error
	DecodeError error

	// ProbeCalls and DecodeCalls count invocations.
	ProbeCalls  int
	DecodeCalls int

	// Requests records every decode request.
	Requests []DecodeRequest
}

// NewFakeDecoder creates a decoder producing frames frames at fps.
func NewFakeDecoder(frames int, fps float64) *FakeDecoder {
	return &FakeDecoder{Frames: frames, SourceFPS: fps}
}

// Probe returns the scripted probe result.
func (f *FakeDecoder) Probe(ctx context.Context, source string) (Probe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProbeCalls++
	if f.ProbeError != nil {
		return Probe{}, f.ProbeError
	}
	return Probe{FPS: f.SourceFPS, DurationSeconds: f.DurationSeconds}, nil
}

// Decode writes f.Frames PNG files of the requested size. Frame i has
// its red channel set to i so tests can tell frames apart.
func (f *FakeDecoder) Decode(ctx context.Context, req DecodeRequest) error {
	f.mu.Lock()
	f.DecodeCalls++
	f.Requests = append(f.Requests, req)
	frames, decodeErr := f.Frames, f.DecodeError
	f.mu.Unlock()

	if decodeErr != nil {
		return decodeErr
	}
	for i := 0; i < frames; i++ {
		if err := WriteTestFrame(filepath.Join(req.Dir, fmt.Sprintf(framePattern, i)), req.Width, req.Height, uint8(i)); err != nil {
			return err
		}
	}
	return nil
}

// WriteTestFrame writes a solid PNG whose red channel is red.
func WriteTestFrame(path string, w, h int, red uint8) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: red, G: 0x40, B: 0x80, A: 0xff}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
