// Command book-kiosk plays a video for whichever page of the physical book
// is open, as reported by the page switches.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/config"
	"github.com/sweeney/book-kiosk/internal/display"
	"github.com/sweeney/book-kiosk/internal/framecache"
	applog "github.com/sweeney/book-kiosk/internal/log"
	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/sweeney/book-kiosk/internal/mqtt"
	"github.com/sweeney/book-kiosk/internal/playback"
	"github.com/sweeney/book-kiosk/internal/status"
	"github.com/sweeney/book-kiosk/internal/switches"
	"github.com/sweeney/book-kiosk/internal/web"
)

// printStateTimeout bounds how long -print-state waits for a serial line.
const printStateTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Config file (default: $KIOSK_CONFIG, then ./config.yaml)")
	buildCache := flag.Bool("build-cache", false, "Build every page's frame cache and exit")
	printState := flag.Bool("print-state", false, "Read the switches once, print the selected page and exit")

	flag.Parse()

	if err := run(*configPath, *buildCache, *printState); err != nil {
		logger := applog.Base()
		logger.Fatal().Err(err).Msg("fatal")
	}
}

func run(configPath string, buildCache, printState bool) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	closeLog, err := applog.Configure(applog.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxAgeDays: cfg.LogMaxAge,
		MaxBackups: cfg.LogBackups,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer closeLog()

	logger := applog.WithComponent("main")
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if printState {
		return printCurrentState(ctx, cfg, os.Stdout)
	}

	decoder := framecache.NewFFmpegDecoder(cfg.FFmpegPath, cfg.FFprobePath, applog.WithComponent("decoder"))
	manager, err := framecache.NewManager(cfg.FrameCacheDir, decoder, applog.WithComponent("framecache"))
	if err != nil {
		return err
	}
	params := framecache.Params{Width: cfg.Screen.Width, Height: cfg.Screen.Height, FPSLimit: cfg.MaxVideoFPS}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ensureCaches(ctx, manager, cfg, params, tracker, logger)
	if buildCache {
		if snap := tracker.Snapshot(); snap.VideoLoadFailure() {
			return fmt.Errorf("frame cache build failed for %v", snap.Unavailable)
		}
		logger.Info().Str("root", manager.Root()).Msg("frame caches ready")
		return nil
	}

	players := make(map[logic.PageID]display.Player, len(logic.AllPages))
	for _, page := range logic.AllPages {
		if src := cfg.Video(page); src != "" {
			players[page] = playback.NewStream(manager, src, params, playback.LoadPNG, applog.WithComponent("playback"))
		}
	}

	if w, err := framecache.NewWatcher(videoSources(cfg), nil, applog.WithComponent("watch")); err != nil {
		logger.Warn().Err(err).Msg("source videos will not be watched for changes")
	} else {
		defer w.Close()
		go w.Run(ctx)
	}

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	surface := openSurface(cfg, logger)
	defer surface.Close()

	var latest switches.Latest
	waitInput, err := startInput(ctx, cfg, &latest, tracker)
	if err != nil {
		return err
	}
	defer waitInput()
	defer cancel()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Warn().Err(err).Msg("failed to publish startup event")
	} else {
		logger.Info().Msg("published startup event")
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http status server listening")
	}

	driver := display.NewDriver(display.Config{
		Readings:  &latest,
		State:     logic.NewPageState(cfg.FloatingFaultAfter),
		Players:   players,
		Surface:   surface,
		Publisher: publisher,
		Tracker:   tracker,
		Logger:    applog.WithComponent("display"),
	})
	defer driver.Close()

	logger.Info().
		Int("target_fps", cfg.TargetFPS).
		Float64("max_video_fps", cfg.MaxVideoFPS).
		Str("input", cfg.Input.Mode).
		Str("screen", fmt.Sprintf("%dx%d", cfg.Screen.Width, cfg.Screen.Height)).
		Msg("started")

	ticker := time.NewTicker(time.Second / time.Duration(cfg.TargetFPS))
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctx, loopDeps{
		driver:    driver,
		publisher: publisher,
		tracker:   tracker,
		heartbeat: cfg.MQTT.Heartbeat,
		logger:    logger,
	}, time.Now, ticker.C, sigCh)
}

// ensureCaches validates or builds every page's cache up front so that the
// first page turn does not stall on a decode.
func ensureCaches(ctx context.Context, m *framecache.Manager, cfg *config.Config, p framecache.Params, tracker *status.Tracker, logger zerolog.Logger) {
	for _, page := range logic.AllPages {
		src := cfg.Video(page)
		if src == "" {
			tracker.SetVideoAvailable(page, false)
			continue
		}
		c, err := m.Ensure(ctx, src, p)
		if err != nil {
			logger.Error().Err(err).Str("page", page.String()).Str("source", src).Msg("failed to prepare frame cache")
			tracker.SetCache(page, status.CacheInfo{Source: src, Error: err.Error()})
			tracker.SetVideoAvailable(page, false)
			continue
		}
		tracker.SetCache(page, status.CacheInfo{
			Source:          src,
			Frames:          len(c.Frames),
			FPS:             c.FPS(),
			DurationSeconds: c.Duration().Seconds(),
			Rebuilt:         c.Rebuilt,
		})
		tracker.SetVideoAvailable(page, true)
	}
}

func videoSources(cfg *config.Config) []string {
	var out []string
	for _, page := range logic.AllPages {
		if src := cfg.Video(page); src != "" {
			out = append(out, src)
		}
	}
	return out
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		TargetFPS:   cfg.TargetFPS,
		MaxVideoFPS: cfg.MaxVideoFPS,
		Width:       cfg.Screen.Width,
		Height:      cfg.Screen.Height,
		CacheDir:    cfg.FrameCacheDir,
		InputMode:   cfg.Input.Mode,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTPAddr,
	}
}

// newPublisher connects to the broker, or returns a no-op publisher when
// telemetry is disabled or the client cannot be created.
func newPublisher(cfg *config.Config, logger zerolog.Logger) mqtt.Publisher {
	if cfg.MQTT.Broker == "" {
		logger.Info().Msg("mqtt disabled")
		return mqtt.NopPublisher{}
	}
	p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, applog.WithComponent("mqtt"))
	if err != nil {
		logger.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt unavailable, telemetry disabled")
		return mqtt.NopPublisher{}
	}
	return p
}

// openSurface opens the framebuffer, falling back to an in-memory surface
// so the kiosk keeps selecting pages and serving status without a display.
func openSurface(cfg *config.Config, logger zerolog.Logger) display.Surface {
	if cfg.Display.Device == "" {
		logger.Info().Msg("no display device configured, running headless")
		return display.NewMemorySurface(cfg.Screen.Width, cfg.Screen.Height)
	}
	fb, err := display.OpenFramebuffer(cfg.Display.Device)
	if err != nil {
		logger.Error().Err(err).Str("device", cfg.Display.Device).Msg("display unavailable, running headless")
		return display.NewMemorySurface(cfg.Screen.Width, cfg.Screen.Height)
	}
	return fb
}

// startInput launches the configured switch reader. The returned wait
// blocks until the reader has stopped after ctx is cancelled.
func startInput(ctx context.Context, cfg *config.Config, latest *switches.Latest, link switches.LinkStatus) (func(), error) {
	done := make(chan struct{})
	switch cfg.Input.Mode {
	case config.InputSerial:
		rx := switches.NewSerialReceiver(switches.SerialConfig{
			BaudRate:      cfg.Input.BaudRate,
			RetryInterval: cfg.Input.RetryInterval,
		}, latest, link, applog.WithComponent("serial"))
		go func() {
			defer close(done)
			rx.Run(ctx)
		}()
	case config.InputGPIO:
		src, err := switches.NewGPIOSource(cfg.Input.GPIOChip, cfg.Pins())
		if err != nil {
			return nil, fmt.Errorf("open gpio: %w", err)
		}
		go func() {
			defer close(done)
			defer src.Close()
			switches.Poll(ctx, src, cfg.Input.GPIOPoll, latest, applog.WithComponent("gpio"))
		}()
	default:
		close(done)
	}
	return func() { <-done }, nil
}

// printCurrentState reads one reading from the configured input and
// writes the switch states and the page they select.
func printCurrentState(ctx context.Context, cfg *config.Config, w io.Writer) error {
	if cfg.Input.Mode == config.InputNone {
		return errors.New("print-state needs an input; input.mode is none")
	}
	ctx, cancel := context.WithTimeout(ctx, printStateTimeout)
	defer cancel()

	var latest switches.Latest
	wait, err := startInput(ctx, cfg, &latest, nil)
	if err != nil {
		return err
	}
	reading, ok := waitForReading(ctx, &latest)
	cancel()
	wait()
	if !ok {
		return fmt.Errorf("no switch reading within %s", printStateTimeout)
	}
	return writeState(w, reading, time.Now())
}

func waitForReading(ctx context.Context, latest *switches.Latest) (logic.Reading, bool) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		if r, _, ok := latest.Load(); ok {
			return r, true
		}
		select {
		case <-ctx.Done():
			return logic.Reading{}, false
		case <-t.C:
		}
	}
}

func writeState(w io.Writer, r logic.Reading, now time.Time) error {
	m := r.Map()
	parts := make([]string, 0, 2*logic.NumPages)
	for _, key := range logic.Keys() {
		v := 0
		if m[key] {
			v = 1
		}
		parts = append(parts, fmt.Sprintf("%s=%d", key, v))
	}
	res := logic.SelectPage(logic.Input{Reading: r, Time: now}, logic.NewPageState(0))
	if _, err := fmt.Fprintf(w, "%s\npage: %s\n", strings.Join(parts, " "), res.Page); err != nil {
		return err
	}
	if len(res.Floating) > 0 {
		fmt.Fprintf(w, "floating: %v\n", res.Floating)
	}
	for _, f := range res.Faults {
		fmt.Fprintf(w, "fault: %s\n", f.Signature())
	}
	return nil
}

type loopDeps struct {
	driver    *display.Driver
	publisher mqtt.Publisher
	tracker   *status.Tracker
	heartbeat time.Duration // 0 disables
	logger    zerolog.Logger
}

func runLoop(ctx context.Context, d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	mqttStatus, _ := d.publisher.(mqtt.ConnectionStatus)
	last := now()
	lastHeartbeat := last

	for {
		select {
		case s := <-sig:
			d.logger.Info().Str("signal", s.String()).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if mqttStatus != nil {
				d.tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				d.logger.Warn().Err(err).Msg("failed to publish shutdown event")
			} else {
				d.logger.Info().Msg("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			dt := max(t.Sub(last), 0)
			last = t

			if err := d.driver.Tick(ctx, t, dt); err != nil {
				d.logger.Error().Err(err).Msg("present failed")
			}
			if mqttStatus != nil {
				d.tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				snap := d.tracker.Snapshot()
				d.logger.Info().Str("page", snap.Page.String()).Dur("uptime", snap.Uptime()).Msg("heartbeat")
				hb := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := d.publisher.PublishSystem(hb); err != nil {
					d.logger.Warn().Err(err).Msg("heartbeat publish error")
				}
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
