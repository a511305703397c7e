// Package switches delivers raw page switch readings to the render loop.
// Readings arrive from a serial link or directly from GPIO lines and are
// handed over through a single-slot Latest cell.
package switches

import "github.com/sweeney/book-kiosk/internal/logic"

// Source reads all ten switches at once.
type Source interface {
	// Read returns the logical switch states (true = contact made).
	Read() (logic.Reading, error)

	// Close releases hardware resources.
	Close() error
}

// LinkStatus receives serial link health updates.
type LinkStatus interface {
	SetSerialWaiting(waiting bool)
	SetSerialFail(failed bool)
}

// DefaultPins are the BCM offsets of the switch lines in wire order:
// page1_open, page1_close, page2_open, ... page5_close.
var DefaultPins = [2 * logic.NumPages]int{5, 6, 13, 19, 26, 12, 16, 20, 21, 25}
