// Package status provides a thread-safe status tracker for the book kiosk.
// It is written by the render loop and the serial receiver and read by
// HTTP handlers, the overlay and telemetry.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/book-kiosk/internal/logic"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains kiosk configuration for display.
type Config struct {
	TargetFPS   int
	MaxVideoFPS float64
	Width       int
	Height      int
	CacheDir    string
	InputMode   string
	Broker      string
	HTTPAddr    string
}

// CacheInfo describes the frame cache backing one page.
type CacheInfo struct {
	Source          string
	Frames          int
	FPS             float64
	DurationSeconds float64
	Rebuilt         bool
	Error           string
}

// Snapshot is a point-in-time view of kiosk state.
// It is a value type; slices and maps are copies.
type Snapshot struct {
	Page            logic.PageID
	PreviousPage    logic.PageID
	LastChange      time.Time
	SuspectedFaulty []int
	Floating        []int
	ActiveFaults    []logic.Signature
	LastFault       *logic.Fault
	FaultsReported  int

	SerialFail    bool
	SerialWaiting bool
	// Unavailable lists pages whose video could not be loaded.
	Unavailable []logic.PageID
	Caches      map[logic.PageID]CacheInfo

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// VideoLoadFailure reports whether any page is without playback.
func (s Snapshot) VideoLoadFailure() bool {
	return len(s.Unavailable) > 0
}

// Uptime returns the duration since the kiosk started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable kiosk state behind an RWMutex.
type Tracker struct {
	mu          sync.RWMutex
	snap        Snapshot
	unavailable map[logic.PageID]bool
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Caches:    make(map[logic.PageID]CacheInfo),
		},
		unavailable: make(map[logic.PageID]bool),
	}
}

// Update records the outcome of one page selection.
// Called from the render loop on every tick.
func (t *Tracker) Update(res logic.Result, active []logic.Signature) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if res.Change != nil {
		t.snap.PreviousPage = res.Change.From
		t.snap.LastChange = res.Change.Timestamp
	}
	t.snap.Page = res.Page
	t.snap.SuspectedFaulty = append([]int(nil), res.SuspectedFaulty...)
	t.snap.Floating = append([]int(nil), res.Floating...)
	t.snap.ActiveFaults = append([]logic.Signature(nil), active...)
	for _, f := range res.Faults {
		t.snap.LastFault = &f
		t.snap.FaultsReported++
	}
}

// SetSerialFail sets the serial link failure flag.
func (t *Tracker) SetSerialFail(failed bool) {
	t.mu.Lock()
	t.snap.SerialFail = failed
	t.mu.Unlock()
}

// SetSerialWaiting sets the flag shown while no serial device is present.
func (t *Tracker) SetSerialWaiting(waiting bool) {
	t.mu.Lock()
	t.snap.SerialWaiting = waiting
	t.mu.Unlock()
}

// SetVideoAvailable marks a page's video as loadable or not.
func (t *Tracker) SetVideoAvailable(page logic.PageID, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		delete(t.unavailable, page)
	} else {
		t.unavailable[page] = true
	}
	t.snap.Unavailable = t.snap.Unavailable[:0:0]
	for p := range t.unavailable {
		t.snap.Unavailable = append(t.snap.Unavailable, p)
	}
	sort.Slice(t.snap.Unavailable, func(i, j int) bool {
		return pageOrder(t.snap.Unavailable[i]) < pageOrder(t.snap.Unavailable[j])
	})
}

// SetCache records cache details for a page.
func (t *Tracker) SetCache(page logic.PageID, info CacheInfo) {
	t.mu.Lock()
	t.snap.Caches[page] = info
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the kiosk state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.SuspectedFaulty = append([]int(nil), t.snap.SuspectedFaulty...)
	s.Floating = append([]int(nil), t.snap.Floating...)
	s.ActiveFaults = append([]logic.Signature(nil), t.snap.ActiveFaults...)
	s.Unavailable = append([]logic.PageID(nil), t.snap.Unavailable...)
	s.Caches = make(map[logic.PageID]CacheInfo, len(t.snap.Caches))
	for k, v := range t.snap.Caches {
		s.Caches[k] = v
	}
	if t.snap.LastFault != nil {
		f := *t.snap.LastFault
		s.LastFault = &f
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

func pageOrder(p logic.PageID) int {
	for i, q := range logic.AllPages {
		if q == p {
			return i
		}
	}
	return len(logic.AllPages)
}
