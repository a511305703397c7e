// Package display drives the kiosk screen: it turns switch readings into a
// page selection, plays that page's video and draws diagnostics on top.
package display

import (
	"image"
	"image/draw"
	"sync"
)

// Surface is where composed frames are shown.
type Surface interface {
	// Bounds returns the drawable area.
	Bounds() image.Rectangle

	// Present shows frame. The surface must not retain frame after returning.
	Present(frame *image.RGBA) error

	// Close releases the surface.
	Close() error
}

// MemorySurface keeps the last presented frame in memory. It backs
// headless mode and tests.
type MemorySurface struct {
	mu     sync.Mutex
	bounds image.Rectangle
	last   *image.RGBA
	count  int
	closed bool
}

// NewMemorySurface creates a width x height in-memory surface.
func NewMemorySurface(width, height int) *MemorySurface {
	return &MemorySurface{bounds: image.Rect(0, 0, width, height)}
}

// Bounds returns the surface size.
func (m *MemorySurface) Bounds() image.Rectangle { return m.bounds }

// Present copies frame.
func (m *MemorySurface) Present(frame *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil || m.last.Bounds() != frame.Bounds() {
		m.last = image.NewRGBA(frame.Bounds())
	}
	draw.Draw(m.last, m.last.Bounds(), frame, frame.Bounds().Min, draw.Src)
	m.count++
	return nil
}

// Last returns the most recently presented frame, or nil.
func (m *MemorySurface) Last() *image.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Presented returns how many frames were presented.
func (m *MemorySurface) Presented() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Close marks the surface closed.
func (m *MemorySurface) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *MemorySurface) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
