package web

import (
	"encoding/json"

	"github.com/sweeney/book-kiosk/internal/status"
)

// HealthJSON is the /healthz response. Healthy is false while any
// overlay error is showing.
type HealthJSON struct {
	Healthy       bool     `json:"healthy"`
	Page          string   `json:"page"`
	Problems      []string `json:"problems"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

func newHealth(snap status.Snapshot) HealthJSON {
	h := HealthJSON{
		Page:          snap.Page.String(),
		Problems:      []string{},
		UptimeSeconds: int64(snap.Uptime().Seconds()),
	}
	if snap.SerialFail {
		h.Problems = append(h.Problems, "serial_fail")
	}
	if snap.SerialWaiting {
		h.Problems = append(h.Problems, "serial_waiting")
	}
	for _, p := range snap.Unavailable {
		h.Problems = append(h.Problems, "video_unavailable:"+string(p))
	}
	h.Healthy = len(h.Problems) == 0
	return h
}

func formatHealth(h HealthJSON) []byte {
	data, _ := json.Marshal(h)
	return data
}
