// Package logic contains the pure page selection state machine.
// This package has NO external dependencies (no serial, GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// NumPages is the number of instrumented physical pages.
const NumPages = 5

// DefaultFloatingFaultAfter is how long an unchanged floating set must persist
// before it is reported as a fault.
const DefaultFloatingFaultAfter = 30 * time.Second

// PageID identifies which video should be shown.
type PageID string

const (
	PageNone       PageID = ""
	PageFrontCover PageID = "front_cover"
	Page1          PageID = "page1"
	Page2          PageID = "page2"
	Page3          PageID = "page3"
	Page4          PageID = "page4"
	PageBackCover  PageID = "back_cover"
)

// AllPages lists every selectable page in playback order.
var AllPages = []PageID{PageFrontCover, Page1, Page2, Page3, Page4, PageBackCover}

// String returns "None" for PageNone.
func (p PageID) String() string {
	if p == PageNone {
		return "None"
	}
	return string(p)
}

// Reading is one snapshot of the ten switches. Index 0 is page 1.
type Reading struct {
	Open  [NumPages]bool
	Close [NumPages]bool
}

// Key returns the wire name of a switch, e.g. "page3_close".
func Key(page int, open bool) string {
	if open {
		return "page" + strconv.Itoa(page) + "_open"
	}
	return "page" + strconv.Itoa(page) + "_close"
}

// Keys returns all ten switch names in wire order.
func Keys() []string {
	keys := make([]string, 0, 2*NumPages)
	for page := 1; page <= NumPages; page++ {
		keys = append(keys, Key(page, true), Key(page, false))
	}
	return keys
}

// ReadingFromMap builds a Reading from "page{n}_{open|close}" keys.
// Missing keys are false; unknown keys are returned so the caller can log them.
func ReadingFromMap(m map[string]bool) (Reading, []string) {
	var r Reading
	known := make(map[string]bool, 2*NumPages)
	for page := 1; page <= NumPages; page++ {
		known[Key(page, true)] = true
		known[Key(page, false)] = true
		r.Open[page-1] = m[Key(page, true)]
		r.Close[page-1] = m[Key(page, false)]
	}
	var unknown []string
	for k := range m {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return r, unknown
}

// Map returns the reading keyed by switch name.
func (r Reading) Map() map[string]bool {
	m := make(map[string]bool, 2*NumPages)
	for i := 0; i < NumPages; i++ {
		m[Key(i+1, true)] = r.Open[i]
		m[Key(i+1, false)] = r.Close[i]
	}
	return m
}

// Changes lists the switch keys whose value differs from prev, in wire order.
func (r Reading) Changes(prev Reading) []string {
	var changed []string
	for i := 0; i < NumPages; i++ {
		if r.Open[i] != prev.Open[i] {
			changed = append(changed, Key(i+1, true))
		}
		if r.Close[i] != prev.Close[i] {
			changed = append(changed, Key(i+1, false))
		}
	}
	return changed
}

// FaultKind distinguishes the two physical fault conditions.
type FaultKind string

const (
	FaultInvalid  FaultKind = "INVALID"  // open and close both true
	FaultFloating FaultKind = "FLOATING" // neither open nor close, persisting too long
)

// Signature is a canonical fault key: the kind plus the sorted page indices.
type Signature string

// NewSignature normalises pages into a sorted, de-duplicated key.
func NewSignature(kind FaultKind, pages []int) Signature {
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for i, p := range sorted {
		if i > 0 && p == sorted[i-1] {
			continue
		}
		parts = append(parts, strconv.Itoa(p))
	}
	return Signature(string(kind) + ":" + strings.Join(parts, ","))
}

// Fault is a newly reported fault signature.
type Fault struct {
	Timestamp time.Time
	Kind      FaultKind
	Pages     []int // sorted page indices, 1-based
	Since     time.Time
}

// Signature returns the de-duplication key for the fault.
func (f Fault) Signature() Signature {
	return NewSignature(f.Kind, f.Pages)
}

// Message renders the fault as a human readable line.
func (f Fault) Message() string {
	switch f.Kind {
	case FaultInvalid:
		return fmt.Sprintf("invalid state: page %v cannot be both open and closed", f.Pages)
	case FaultFloating:
		return fmt.Sprintf("pages %v floating for %s", f.Pages, f.Timestamp.Sub(f.Since).Round(time.Millisecond))
	}
	return string(f.Kind)
}

// PageChange is emitted whenever the selected page changes.
type PageChange struct {
	Timestamp time.Time
	From      PageID
	To        PageID
}

// Input represents a single sample of switch readings.
type Input struct {
	Reading Reading
	Time    time.Time
}

// Result is the outcome of one SelectPage call.
type Result struct {
	Page     PageID
	Change   *PageChange // nil unless Page differs from the previous selection
	Faults   []Fault     // faults reported for the first time this call
	Floating []int       // pages currently floating, 1-based
	// SuspectedFaulty lists pages believed to be stuck or miswired.
	SuspectedFaulty []int
}

// PageState is the selector's memory between calls. The zero value is not
// ready; use NewPageState.
type PageState struct {
	Current         PageID
	FloatingSince   time.Time
	FloatingSet     []int // nil when no floating timer is running
	SuspectedFaulty []int
	Reported        map[Signature]bool

	floatingFaultAfter time.Duration
}

// NewPageState creates selector state with the given floating fault threshold.
// A non-positive threshold uses DefaultFloatingFaultAfter.
func NewPageState(floatingFaultAfter time.Duration) *PageState {
	if floatingFaultAfter <= 0 {
		floatingFaultAfter = DefaultFloatingFaultAfter
	}
	return &PageState{
		Reported:           make(map[Signature]bool),
		floatingFaultAfter: floatingFaultAfter,
	}
}

// ActiveFaults returns the currently reported fault signatures, sorted.
func (st *PageState) ActiveFaults() []Signature {
	out := make([]Signature, 0, len(st.Reported))
	for sig := range st.Reported {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
