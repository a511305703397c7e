package switches

import (
	"errors"

	"github.com/sweeney/book-kiosk/internal/logic"
)

// FakeSource is a test double that returns scripted readings.
type FakeSource struct {
	// Readings contains scripted readings to return.
	// Each call to Read() consumes the next reading.
	Readings []logic.Reading

	// index tracks current position in Readings
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeSource creates a FakeSource with the given readings.
func NewFakeSource(readings []logic.Reading) *FakeSource {
	return &FakeSource{Readings: readings}
}

// Read returns the next scripted reading.
// If readings are exhausted, returns the last reading repeatedly.
func (f *FakeSource) Read() (logic.Reading, error) {
	if f.ReadError != nil {
		return logic.Reading{}, f.ReadError
	}

	if len(f.Readings) == 0 {
		return logic.Reading{}, errors.New("no readings configured")
	}

	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds to the first reading.
func (f *FakeSource) Reset() {
	f.index = 0
	f.Closed = false
}
