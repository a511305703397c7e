package switches

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/book-kiosk/internal/logic"
)

// FieldCountMismatch describes a line that did not carry exactly ten fields.
type FieldCountMismatch struct {
	Got int
}

// ParseLine decodes a comma separated line of switch states in wire order
// (page1_open,page1_close,...). Any nonzero integer is true. Missing fields
// stay false and extra fields are ignored; a field count other than ten is
// reported through mismatch so the caller can warn about it.
func ParseLine(line string) (r logic.Reading, mismatch *FieldCountMismatch, err error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 2*logic.NumPages {
		mismatch = &FieldCountMismatch{Got: len(fields)}
	}

	for i, field := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return logic.Reading{}, mismatch, fmt.Errorf("field %d %q: %w", i, field, err)
		}
		if i >= 2*logic.NumPages {
			continue
		}
		page := i / 2
		if i%2 == 0 {
			r.Open[page] = v != 0
		} else {
			r.Close[page] = v != 0
		}
	}
	return r, mismatch, nil
}
