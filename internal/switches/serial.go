package switches

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/sweeney/book-kiosk/internal/metrics"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Default serial link parameters.
const (
	DefaultBaudRate      = 9600
	DefaultRetryInterval = time.Second
)

// SerialConfig configures a SerialReceiver.
type SerialConfig struct {
	BaudRate      int
	RetryInterval time.Duration

	// ListPorts returns candidate port names. Defaults to USB serial ports.
	ListPorts func() ([]string, error)
	// OpenPort opens a port. Defaults to go.bug.st/serial.
	OpenPort func(name string, baud int) (io.ReadCloser, error)
}

// SerialReceiver reads switch lines from the microcontroller and keeps
// the latest parsed reading in a Latest slot. It reconnects on failure.
type SerialReceiver struct {
	cfg    SerialConfig
	latest *Latest
	status LinkStatus
	logger zerolog.Logger
}

// NewSerialReceiver creates a receiver. status may be nil.
func NewSerialReceiver(cfg SerialConfig, latest *Latest, status LinkStatus, logger zerolog.Logger) *SerialReceiver {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.ListPorts == nil {
		cfg.ListPorts = ListUSBPorts
	}
	if cfg.OpenPort == nil {
		cfg.OpenPort = openSerial
	}
	return &SerialReceiver{cfg: cfg, latest: latest, status: status, logger: logger}
}

// ListUSBPorts returns the names of USB serial ports.
func ListUSBPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	var names []string
	for _, p := range ports {
		if p.IsUSB {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

func openSerial(name string, baud int) (io.ReadCloser, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

// Run connects, reads and reconnects until ctx is cancelled.
func (r *SerialReceiver) Run(ctx context.Context) {
	r.logger.Info().Int("baud", r.cfg.BaudRate).Msg("starting serial receiver")
	for {
		port, name, ok := r.connect(ctx)
		if !ok {
			return
		}

		err := r.readLines(ctx, port)
		if ctx.Err() != nil {
			return
		}

		r.setFail(true)
		metrics.SerialReconnectsTotal.Inc()
		r.logger.Warn().Err(err).Str("port", name).Msg("serial port disconnected, reconnecting")
		if !sleep(ctx, r.cfg.RetryInterval) {
			return
		}
	}
}

// connect blocks until a port is open or ctx is cancelled.
func (r *SerialReceiver) connect(ctx context.Context) (io.ReadCloser, string, bool) {
	for {
		names, err := r.cfg.ListPorts()
		if err != nil {
			r.logger.Warn().Err(err).Msg("list serial ports")
		}
		if len(names) == 0 {
			r.setWaiting(true)
			if !sleep(ctx, r.cfg.RetryInterval) {
				return nil, "", false
			}
			continue
		}
		r.setWaiting(false)

		port, err := r.cfg.OpenPort(names[0], r.cfg.BaudRate)
		if err != nil {
			r.setFail(true)
			r.logger.Warn().Err(err).Str("port", names[0]).Msg("failed to connect to serial port, retrying")
			if !sleep(ctx, r.cfg.RetryInterval) {
				return nil, "", false
			}
			continue
		}

		r.setFail(false)
		r.logger.Info().Str("port", names[0]).Msg("connected to serial port")
		return port, names[0], true
	}
}

// readLines consumes lines until the port fails or ctx is cancelled.
func (r *SerialReceiver) readLines(ctx context.Context, port io.ReadCloser) error {
	var once sync.Once
	closePort := func() { once.Do(func() { port.Close() }) }
	defer closePort()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closePort()
		case <-done:
		}
	}()

	br := bufio.NewReader(port)
	for {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return err
		}
		r.handleLine(line)
	}
}

func (r *SerialReceiver) handleLine(raw []byte) {
	if !utf8.Valid(raw) {
		metrics.LinesRejectedTotal.Inc()
		r.logger.Error().Bytes("line", raw).Msg("invalid data received, skipping line")
		return
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}

	reading, mismatch, err := ParseLine(line)
	if mismatch != nil {
		r.logger.Warn().Int("got", mismatch.Got).Int("expected", 2*logic.NumPages).Msg("unexpected number of states")
	}
	if err != nil {
		metrics.LinesRejectedTotal.Inc()
		r.logger.Error().Err(err).Str("line", line).Msg("failed to parse line")
		return
	}
	r.latest.Store(reading)
}

func (r *SerialReceiver) setWaiting(v bool) {
	if r.status != nil {
		r.status.SetSerialWaiting(v)
	}
}

func (r *SerialReceiver) setFail(v bool) {
	if r.status != nil {
		r.status.SetSerialFail(v)
	}
}

// sleep waits d or until ctx is done; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
