package internal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/display"
	"github.com/sweeney/book-kiosk/internal/framecache"
	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/sweeney/book-kiosk/internal/mqtt"
	"github.com/sweeney/book-kiosk/internal/playback"
	"github.com/sweeney/book-kiosk/internal/status"
	"github.com/sweeney/book-kiosk/internal/switches"
)

// kiosk wires the real selector, frame caches, streams and driver to fakes
// at the edges: scripted serial lines, a fake decoder, an in-memory
// surface and a recording publisher.
type kiosk struct {
	latest  *switches.Latest
	dec     *framecache.FakeDecoder
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	surface *display.MemorySurface
	driver  *display.Driver
	now     time.Time
}

const (
	screenW, screenH = 400, 300
	videoW, videoH   = 40, 30
	frameStep        = time.Second / 24
)

func newKiosk(t *testing.T, missing ...logic.PageID) *kiosk {
	t.Helper()
	dir := t.TempDir()
	dec := framecache.NewFakeDecoder(24, 24)
	m, err := framecache.NewManager(filepath.Join(dir, "frame_cache"), dec, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	skip := make(map[logic.PageID]bool)
	for _, p := range missing {
		skip[p] = true
	}
	params := framecache.Params{Width: videoW, Height: videoH, FPSLimit: 24}
	players := make(map[logic.PageID]display.Player)
	for i, page := range logic.AllPages {
		src := filepath.Join(dir, "assets", string(rune('1'+i))+".mov")
		if !skip[page] {
			if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(src, []byte(page), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		players[page] = playback.NewStream(m, src, params, playback.LoadPNG, zerolog.Nop())
	}

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	k := &kiosk{
		latest:  &switches.Latest{},
		dec:     dec,
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(start, status.Config{TargetFPS: 24}),
		surface: display.NewMemorySurface(screenW, screenH),
		now:     start,
	}
	k.driver = display.NewDriver(display.Config{
		Readings:  k.latest,
		State:     logic.NewPageState(5 * time.Second),
		Players:   players,
		Surface:   k.surface,
		Publisher: k.pub,
		Tracker:   k.tracker,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(k.driver.Close)
	return k
}

// receive parses a line the way the serial receiver does.
func (k *kiosk) receive(t *testing.T, line string) {
	t.Helper()
	r, _, err := switches.ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", line, err)
	}
	k.latest.Store(r)
}

func (k *kiosk) tick(t *testing.T, dt time.Duration) {
	t.Helper()
	k.now = k.now.Add(dt)
	if err := k.driver.Tick(context.Background(), k.now, dt); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

// centre returns the pixel at the middle of the screen, inside the video.
func (k *kiosk) centre() (r, g, b uint8) {
	c := k.surface.Last().RGBAAt(screenW/2, screenH/2)
	return c.R, c.G, c.B
}

const (
	lineCover = "0,1,0,1,0,1,0,1,0,1"
	linePage1 = "1,0,0,1,0,1,0,1,0,1"
	linePage3 = "1,0,1,0,1,0,0,1,0,1"
	lineBack  = "1,0,1,0,1,0,1,0,1,0"
)

func TestIntegrationPageTurnsDrivePlayback(t *testing.T) {
	k := newKiosk(t)

	k.tick(t, frameStep)
	if r, g, b := k.centre(); r != 0xff || g != 0xff || b != 0xff {
		t.Errorf("before any reading: got %02x%02x%02x, want white", r, g, b)
	}

	for _, line := range []string{lineCover, linePage1, linePage3, lineBack} {
		k.receive(t, line)
		k.tick(t, frameStep)
		if _, g, b := k.centre(); g != 0x40 || b != 0x80 {
			t.Errorf("after %s: video not shown at centre (g=%02x b=%02x)", line, g, b)
		}
	}

	var got []logic.PageID
	for _, c := range k.pub.PageChanges {
		got = append(got, c.To)
	}
	want := []logic.PageID{logic.PageFrontCover, logic.Page1, logic.Page3, logic.PageBackCover}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("page changes mismatch (-want +got):\n%s", diff)
	}
	if k.dec.DecodeCalls != 4 {
		t.Errorf("decodes: got %d, want one per visited page", k.dec.DecodeCalls)
	}

	// Returning to a page reuses its cache.
	k.receive(t, lineCover)
	k.tick(t, frameStep)
	if k.dec.DecodeCalls != 4 {
		t.Errorf("decodes after revisit: got %d, want 4", k.dec.DecodeCalls)
	}
}

func TestIntegrationPlaybackFollowsElapsedTime(t *testing.T) {
	k := newKiosk(t)
	k.receive(t, lineCover)
	k.tick(t, 0)
	if r, _, _ := k.centre(); r != 0 {
		t.Errorf("first frame: red %d, want 0", r)
	}
	for i := 0; i < 5; i++ {
		k.tick(t, frameStep+time.Millisecond)
	}
	if r, _, _ := k.centre(); r != 5 {
		t.Errorf("after five frame periods: red %d, want 5", r)
	}

	// Holding the reading does not restart the video.
	k.receive(t, lineCover)
	k.tick(t, frameStep+time.Millisecond)
	if r, _, _ := k.centre(); r != 6 {
		t.Errorf("same page re-read: red %d, want 6", r)
	}
}

func TestIntegrationPageChangePayload(t *testing.T) {
	k := newKiosk(t)
	k.receive(t, linePage1)
	k.tick(t, frameStep)

	if len(k.pub.Payloads) != 1 {
		t.Fatalf("payloads: got %d, want 1", len(k.pub.Payloads))
	}
	var p mqtt.PageChangePayload
	if err := json.Unmarshal(k.pub.Payloads[0], &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := mqtt.PageChangeInner{
		Timestamp: "2026-03-01T10:00:00Z",
		Event:     "PAGE_CHANGE",
		From:      "None",
		To:        "page1",
	}
	if diff := cmp.Diff(want, p.Page); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegrationMissingVideo(t *testing.T) {
	k := newKiosk(t, logic.Page1)

	k.receive(t, linePage1)
	k.tick(t, frameStep)
	snap := k.tracker.Snapshot()
	if diff := cmp.Diff([]logic.PageID{logic.Page1}, snap.Unavailable); diff != "" {
		t.Errorf("unavailable mismatch (-want +got):\n%s", diff)
	}
	if r, g, b := k.centre(); r != 0xff || g != 0xff || b != 0xff {
		t.Errorf("missing video should leave the page white, got %02x%02x%02x", r, g, b)
	}

	k.receive(t, lineBack)
	k.tick(t, frameStep)
	if _, g, b := k.centre(); g != 0x40 || b != 0x80 {
		t.Error("other pages should still play")
	}
	if !k.tracker.Snapshot().VideoLoadFailure() {
		t.Error("video load failure flag should persist")
	}
}

func TestIntegrationInvalidPageFault(t *testing.T) {
	k := newKiosk(t)
	k.receive(t, "1,0,1,1,0,1,0,1,0,1")
	for i := 0; i < 3; i++ {
		k.tick(t, frameStep)
	}

	if len(k.pub.Faults) != 1 {
		t.Fatalf("faults: got %d, want 1", len(k.pub.Faults))
	}
	var p mqtt.FaultPayload
	if err := json.Unmarshal(k.pub.Payloads[0], &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Fault.Kind != "INVALID" || p.Fault.Signature != "INVALID:2" {
		t.Errorf("fault payload: got %+v", p.Fault)
	}
	snap := k.tracker.Snapshot()
	if snap.Page != logic.PageNone {
		t.Errorf("page: got %s, want None", snap.Page)
	}
	if diff := cmp.Diff([]int{2}, snap.SuspectedFaulty); diff != "" {
		t.Errorf("suspected mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegrationFloatingFault(t *testing.T) {
	k := newKiosk(t)
	k.receive(t, lineCover)
	k.tick(t, frameStep)

	// Page 2 lifts off both switches mid-turn and stays there.
	k.receive(t, "1,0,0,0,0,1,0,1,0,1")
	k.tick(t, frameStep)
	if len(k.pub.Faults) != 0 {
		t.Fatal("a brief float must not be reported")
	}
	k.tick(t, 6*time.Second)
	k.tick(t, time.Second)

	if len(k.pub.Faults) != 1 {
		t.Fatalf("faults: got %d, want 1", len(k.pub.Faults))
	}
	if sig := k.pub.Faults[0].Signature(); sig != "FLOATING:2" {
		t.Errorf("signature: got %s", sig)
	}

	// Recovery clears the suspicion and the next turn plays.
	k.receive(t, linePage3)
	k.tick(t, frameStep)
	snap := k.tracker.Snapshot()
	if snap.Page != logic.Page3 || len(snap.SuspectedFaulty) != 0 {
		t.Errorf("after recovery: page %s suspected %v", snap.Page, snap.SuspectedFaulty)
	}
}

func TestIntegrationStatusJSON(t *testing.T) {
	k := newKiosk(t)
	k.tracker.SetSerialWaiting(true)
	k.receive(t, linePage3)
	k.tick(t, frameStep)

	var sj status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(k.tracker.Snapshot()), &sj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sj.Status.Page != "page3" || sj.Status.PreviousPage != "None" {
		t.Errorf("pages: got %q from %q", sj.Status.Page, sj.Status.PreviousPage)
	}
	if !sj.Status.Flags.SerialWaiting || sj.Status.Flags.VideoLoadFailure {
		t.Errorf("flags: got %+v", sj.Status.Flags)
	}
}
