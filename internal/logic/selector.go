package logic

import "time"

// SelectPage runs one step of the page selection state machine.
// It mutates st and returns the selected page plus diagnostics. Faults are
// returned only the first time a signature is observed; the caller logs them.
func SelectPage(in Input, st *PageState) Result {
	if st.Reported == nil {
		st.Reported = make(map[Signature]bool)
	}
	prev := st.Current
	now := in.Time
	r := in.Reading
	var res Result

	// Invalid (open and closed) pages are reported one at a time in index order.
	invalid := 0
	for i := 0; i < NumPages; i++ {
		if r.Open[i] && r.Close[i] {
			if invalid == 0 {
				invalid = i + 1
			}
			continue
		}
		delete(st.Reported, NewSignature(FaultInvalid, []int{i + 1}))
	}
	if invalid != 0 {
		st.clearFloating()
		st.SuspectedFaulty = []int{invalid}
		f := Fault{Timestamp: now, Kind: FaultInvalid, Pages: []int{invalid}, Since: now}
		if st.report(f) {
			res.Faults = append(res.Faults, f)
		}
		return st.finish(res, prev, PageNone, now)
	}

	floating := floatingPages(r)
	res.Floating = floating
	if len(floating) > 0 {
		if st.FloatingSet == nil || !equalInts(st.FloatingSet, floating) {
			st.clearFloating()
			st.FloatingSet = floating
			st.FloatingSince = now
			st.SuspectedFaulty = nil
		} else if now.Sub(st.FloatingSince) > st.threshold() {
			st.SuspectedFaulty = append([]int(nil), floating...)
			f := Fault{Timestamp: now, Kind: FaultFloating, Pages: append([]int(nil), floating...), Since: st.FloatingSince}
			if st.report(f) {
				res.Faults = append(res.Faults, f)
			}
		}
		return st.finish(res, prev, PageNone, now)
	}

	if st.FloatingSet != nil {
		st.clearFloating()
	}
	st.SuspectedFaulty = nil

	return st.finish(res, prev, choosePage(r), now)
}

// choosePage applies the selection rules to a reading with no invalid or
// floating pages.
func choosePage(r Reading) PageID {
	allClosed, allOpen := true, true
	for i := 0; i < NumPages; i++ {
		open := r.Open[i] && !r.Close[i]
		closed := r.Close[i] && !r.Open[i]
		if !closed {
			allClosed = false
		}
		if !open {
			allOpen = false
		}
	}
	switch {
	case allClosed:
		return PageFrontCover
	case allOpen:
		return PageBackCover
	}

	// Page 5 opening means the book is fully open.
	last := NumPages - 1
	if r.Open[last] && !r.Close[last] {
		return PageBackCover
	}

	// Highest open page wins.
	for i := last - 1; i >= 0; i-- {
		if r.Open[i] && !r.Close[i] {
			return pageForIndex(i + 1)
		}
	}
	return PageNone
}

func pageForIndex(page int) PageID {
	switch page {
	case 1:
		return Page1
	case 2:
		return Page2
	case 3:
		return Page3
	case 4:
		return Page4
	}
	return PageNone
}

func floatingPages(r Reading) []int {
	var pages []int
	for i := 0; i < NumPages; i++ {
		if !r.Open[i] && !r.Close[i] {
			pages = append(pages, i+1)
		}
	}
	return pages
}

func (st *PageState) threshold() time.Duration {
	if st.floatingFaultAfter <= 0 {
		return DefaultFloatingFaultAfter
	}
	return st.floatingFaultAfter
}

// report records the fault signature and returns true if it was not already reported.
func (st *PageState) report(f Fault) bool {
	sig := f.Signature()
	if st.Reported[sig] {
		return false
	}
	st.Reported[sig] = true
	return true
}

// clearFloating stops the floating timer and forgets its fault signature so
// that a recurrence is reported again.
func (st *PageState) clearFloating() {
	if st.FloatingSet != nil {
		delete(st.Reported, NewSignature(FaultFloating, st.FloatingSet))
	}
	st.FloatingSet = nil
	st.FloatingSince = time.Time{}
}

func (st *PageState) finish(res Result, prev, page PageID, now time.Time) Result {
	st.Current = page
	res.Page = page
	if len(st.SuspectedFaulty) > 0 {
		res.SuspectedFaulty = append([]int(nil), st.SuspectedFaulty...)
	}
	if page != prev {
		res.Change = &PageChange{Timestamp: now, From: prev, To: page}
	}
	return res
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
