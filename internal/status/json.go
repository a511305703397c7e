package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/book-kiosk/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string               `json:"event,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	Page            string               `json:"page"`
	PreviousPage    string               `json:"previous_page"`
	LastChange      string               `json:"last_change,omitempty"`
	SuspectedFaulty []int                `json:"suspected_faulty"`
	Floating        []int                `json:"floating"`
	ActiveFaults    []string             `json:"active_faults"`
	LastFault       *FaultJSON           `json:"last_fault,omitempty"`
	FaultsReported  int                  `json:"faults_reported"`
	Flags           FlagsJSON            `json:"flags"`
	Unavailable     []string             `json:"unavailable_pages"`
	Caches          map[string]CacheJSON `json:"caches"`
	UptimeSeconds   int64                `json:"uptime_seconds"`
	StartTime       string               `json:"start_time"`
	Timestamp       string               `json:"timestamp"`
	MQTT            MQTTStatus           `json:"mqtt"`
	Network         *NetworkJSON         `json:"network,omitempty"`
	Config          ConfigJSON           `json:"config"`
}

// FlagsJSON carries the critical error flags shown on the overlay.
type FlagsJSON struct {
	SerialFail       bool `json:"serial_fail"`
	SerialWaiting    bool `json:"serial_waiting"`
	VideoLoadFailure bool `json:"video_load_failure"`
}

// FaultJSON is the JSON representation of a reported fault.
type FaultJSON struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Pages     []int  `json:"pages"`
	Message   string `json:"message"`
}

// CacheJSON is the JSON representation of one page's frame cache.
type CacheJSON struct {
	Source          string  `json:"source"`
	Frames          int     `json:"frames"`
	FPS             float64 `json:"fps"`
	DurationSeconds float64 `json:"duration_seconds"`
	Rebuilt         bool    `json:"rebuilt"`
	Error           string  `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of kiosk config.
type ConfigJSON struct {
	TargetFPS   int     `json:"target_fps"`
	MaxVideoFPS float64 `json:"max_video_fps"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	CacheDir    string  `json:"frame_cache_dir"`
	InputMode   string  `json:"input_mode"`
	Broker      string  `json:"broker"`
	HTTPAddr    string  `json:"http_addr"`
}

// NewFaultJSON converts a fault for JSON output.
func NewFaultJSON(f logic.Fault) FaultJSON {
	pages := f.Pages
	if pages == nil {
		pages = []int{}
	}
	return FaultJSON{
		Timestamp: f.Timestamp.UTC().Format(time.RFC3339Nano),
		Kind:      string(f.Kind),
		Pages:     pages,
		Message:   f.Message(),
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Page:            snap.Page.String(),
		PreviousPage:    snap.PreviousPage.String(),
		SuspectedFaulty: nonNil(snap.SuspectedFaulty),
		Floating:        nonNil(snap.Floating),
		ActiveFaults:    []string{},
		FaultsReported:  snap.FaultsReported,
		Flags: FlagsJSON{
			SerialFail:       snap.SerialFail,
			SerialWaiting:    snap.SerialWaiting,
			VideoLoadFailure: snap.VideoLoadFailure(),
		},
		Unavailable:   []string{},
		Caches:        make(map[string]CacheJSON, len(snap.Caches)),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TargetFPS:   snap.Config.TargetFPS,
			MaxVideoFPS: snap.Config.MaxVideoFPS,
			Width:       snap.Config.Width,
			Height:      snap.Config.Height,
			CacheDir:    snap.Config.CacheDir,
			InputMode:   snap.Config.InputMode,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if !snap.LastChange.IsZero() {
		inner.LastChange = snap.LastChange.UTC().Format(time.RFC3339)
	}
	for _, sig := range snap.ActiveFaults {
		inner.ActiveFaults = append(inner.ActiveFaults, string(sig))
	}
	if snap.LastFault != nil {
		f := NewFaultJSON(*snap.LastFault)
		inner.LastFault = &f
	}
	for _, p := range snap.Unavailable {
		inner.Unavailable = append(inner.Unavailable, string(p))
	}
	for page, c := range snap.Caches {
		inner.Caches[string(page)] = CacheJSON{
			Source:          c.Source,
			Frames:          c.Frames,
			FPS:             c.FPS,
			DurationSeconds: c.DurationSeconds,
			Rebuilt:         c.Rebuilt,
			Error:           c.Error,
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

func nonNil(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
