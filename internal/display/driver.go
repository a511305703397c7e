package display

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/sweeney/book-kiosk/internal/metrics"
	"github.com/sweeney/book-kiosk/internal/mqtt"
	"github.com/sweeney/book-kiosk/internal/status"
	"golang.org/x/image/draw"
)

// Player is a per-page video. *playback.Stream implements it.
type Player interface {
	Reset(ctx context.Context) error
	Advance(ctx context.Context, dt time.Duration) (image.Image, error)
	Close()
}

// ReadingSource hands over the latest switch reading.
// *switches.Latest implements it.
type ReadingSource interface {
	Load() (logic.Reading, uint64, bool)
}

// Config wires a Driver to its collaborators.
type Config struct {
	Readings  ReadingSource
	State     *logic.PageState
	Players   map[logic.PageID]Player
	Surface   Surface
	Publisher mqtt.Publisher
	Tracker   *status.Tracker
	Logger    zerolog.Logger
}

// Driver runs one render loop iteration per Tick. It is not safe for
// concurrent use; the render loop owns it.
type Driver struct {
	cfg     Config
	canvas  *image.RGBA
	prev    logic.Reading
	lastSeq uint64
	page    logic.PageID
	active  Player
}

// NewDriver creates a driver. The selector state, surface and tracker
// are required; a nil publisher discards telemetry.
func NewDriver(cfg Config) *Driver {
	if cfg.Publisher == nil {
		cfg.Publisher = mqtt.NopPublisher{}
	}
	if cfg.Players == nil {
		cfg.Players = make(map[logic.PageID]Player)
	}
	return &Driver{
		cfg:    cfg,
		canvas: image.NewRGBA(cfg.Surface.Bounds()),
	}
}

// Page returns the currently selected page.
func (d *Driver) Page() logic.PageID { return d.page }

// Tick selects the page for the latest reading, advances its video by dt
// and presents the composed frame.
func (d *Driver) Tick(ctx context.Context, now time.Time, dt time.Duration) error {
	start := time.Now()
	defer func() { metrics.TickSeconds.Observe(time.Since(start).Seconds()) }()

	if reading, seq, ok := d.cfg.Readings.Load(); ok {
		if seq != d.lastSeq {
			d.logSwitchChanges(reading)
			d.lastSeq = seq
		}
		res := logic.SelectPage(logic.Input{Reading: reading, Time: now}, d.cfg.State)
		d.handleResult(ctx, res)
	}

	var frame image.Image
	if d.active != nil {
		img, err := d.active.Advance(ctx, dt)
		if err != nil {
			d.cfg.Logger.Error().Err(err).Str("page", d.page.String()).Msg("playback failed")
			d.cfg.Tracker.SetVideoAvailable(d.page, false)
			d.active.Close()
			d.active = nil
		}
		frame = img
	}

	d.compose(frame, overlayLines(d.cfg.Tracker.Snapshot()))
	return d.cfg.Surface.Present(d.canvas)
}

func (d *Driver) logSwitchChanges(reading logic.Reading) {
	for _, key := range reading.Changes(d.prev) {
		d.cfg.Logger.Info().Str("switch", key).Bool("value", reading.Map()[key]).Msg("switch changed")
	}
	d.prev = reading
}

func (d *Driver) handleResult(ctx context.Context, res logic.Result) {
	for _, f := range res.Faults {
		d.cfg.Logger.Error().
			Str("kind", string(f.Kind)).
			Ints("pages", f.Pages).
			Msg(f.Message())
		metrics.FaultsReportedTotal.WithLabelValues(string(f.Kind)).Inc()
		if err := d.cfg.Publisher.PublishFault(f); err != nil {
			d.cfg.Logger.Warn().Err(err).Msg("failed to publish fault")
		}
	}

	if res.Change != nil {
		d.cfg.Logger.Info().
			Str("from", res.Change.From.String()).
			Str("to", res.Change.To.String()).
			Msg("page changed")
		metrics.PageChangesTotal.WithLabelValues(res.Change.To.String()).Inc()
		metrics.SetCurrentPage(res.Change.To.String(), pageLabels())
		if err := d.cfg.Publisher.PublishPageChange(*res.Change); err != nil {
			d.cfg.Logger.Warn().Err(err).Msg("failed to publish page change")
		}
		d.activate(ctx, res.Change.To)
	}

	d.cfg.Tracker.Update(res, d.cfg.State.ActiveFaults())
}

// activate closes the current player and rewinds the one for page.
func (d *Driver) activate(ctx context.Context, page logic.PageID) {
	if d.active != nil {
		d.active.Close()
		d.active = nil
	}
	d.page = page
	if page == logic.PageNone {
		return
	}

	p, ok := d.cfg.Players[page]
	if !ok {
		d.cfg.Logger.Error().Str("page", page.String()).Msg("no video configured for page")
		d.cfg.Tracker.SetVideoAvailable(page, false)
		return
	}
	if err := p.Reset(ctx); err != nil {
		d.cfg.Logger.Error().Err(err).Str("page", page.String()).Msg("failed to load video")
		d.cfg.Tracker.SetVideoAvailable(page, false)
		return
	}
	d.cfg.Tracker.SetVideoAvailable(page, true)
	d.active = p
}

// compose draws frame centred on a white background plus the overlay.
func (d *Driver) compose(frame image.Image, lines []string) {
	draw.Draw(d.canvas, d.canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if frame != nil {
		fb := frame.Bounds()
		cb := d.canvas.Bounds()
		off := image.Pt((cb.Dx()-fb.Dx())/2, (cb.Dy()-fb.Dy())/2)
		draw.Draw(d.canvas, fb.Sub(fb.Min).Add(off), frame, fb.Min, draw.Over)
	}
	drawOverlay(d.canvas, lines)
}

// Close closes the active player.
func (d *Driver) Close() {
	if d.active != nil {
		d.active.Close()
		d.active = nil
	}
}

func pageLabels() []string {
	labels := make([]string, 0, len(logic.AllPages)+1)
	labels = append(labels, logic.PageNone.String())
	for _, p := range logic.AllPages {
		labels = append(labels, p.String())
	}
	return labels
}
