//go:build linux

package switches

import (
	"fmt"

	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/warthog618/go-gpiocdev"
)

// GPIOSource reads the ten switches directly from Linux GPIO lines.
// Switches pull the line to ground, so lines are requested active-low with pull-up.
type GPIOSource struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	vals  []int
}

// NewGPIOSource requests the given offsets (wire order) on chipName.
func NewGPIOSource(chipName string, pins [2 * logic.NumPages]int) (*GPIOSource, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	lines, err := chip.RequestLines(pins[:], gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request switch lines %v: %w", pins, err)
	}

	return &GPIOSource{
		chip:  chip,
		lines: lines,
		vals:  make([]int, len(pins)),
	}, nil
}

// Read samples all lines in one request.
func (g *GPIOSource) Read() (logic.Reading, error) {
	if err := g.lines.Values(g.vals); err != nil {
		return logic.Reading{}, fmt.Errorf("read switch lines: %w", err)
	}
	var r logic.Reading
	for i := 0; i < logic.NumPages; i++ {
		r.Open[i] = g.vals[2*i] == 1
		r.Close[i] = g.vals[2*i+1] == 1
	}
	return r, nil
}

// Close releases GPIO resources.
// Lines are returned to input with pull-down (Pi boot default) before closing.
func (g *GPIOSource) Close() error {
	var errs []error

	if g.lines != nil {
		if err := g.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure switch lines: %w", err))
		}
		if err := g.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close switch lines: %w", err))
		}
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
