//go:build !linux

package switches

import (
	"errors"

	"github.com/sweeney/book-kiosk/internal/logic"
)

// GPIOSource is not available on non-Linux platforms.
type GPIOSource struct{}

// NewGPIOSource returns an error on non-Linux platforms.
func NewGPIOSource(chipName string, pins [2 * logic.NumPages]int) (*GPIOSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (g *GPIOSource) Read() (logic.Reading, error) {
	return logic.Reading{}, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (g *GPIOSource) Close() error {
	return nil
}
