package switches

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLink records link status updates.
type fakeLink struct {
	mu      sync.Mutex
	waiting bool
	failed  bool
	events  []string
}

func (f *fakeLink) SetSerialWaiting(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v != f.waiting {
		f.events = append(f.events, boolEvent("waiting", v))
	}
	f.waiting = v
}

func (f *fakeLink) SetSerialFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v != f.failed {
		f.events = append(f.events, boolEvent("fail", v))
	}
	f.failed = v
}

func (f *fakeLink) snapshot() (bool, bool, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting, f.failed, append([]string(nil), f.events...)
}

func boolEvent(name string, v bool) string {
	if v {
		return name + "=true"
	}
	return name + "=false"
}

// pipePorts hands out one pipe per OpenPort call.
type pipePorts struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	opened  chan *io.PipeWriter
}

func newPipePorts() *pipePorts {
	return &pipePorts{opened: make(chan *io.PipeWriter, 4)}
}

func (p *pipePorts) open(name string, baud int) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	p.mu.Lock()
	p.writers = append(p.writers, pw)
	p.mu.Unlock()
	p.opened <- pw
	return pr, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startReceiver(t *testing.T, cfg SerialConfig, latest *Latest, link LinkStatus) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewSerialReceiver(cfg, latest, link, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func TestSerialReceiverStoresParsedLines(t *testing.T) {
	ports := newPipePorts()
	var latest Latest
	link := &fakeLink{}
	cancel, done := startReceiver(t, SerialConfig{
		RetryInterval: time.Millisecond,
		ListPorts:     func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
		OpenPort:      ports.open,
	}, &latest, link)

	pw := <-ports.opened
	if _, err := io.WriteString(pw, "0,1,0,1,1,0,0,1,0,1\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "reading", func() bool {
		r, _, ok := latest.Load()
		return ok && r == readingWithOpen(3)
	})

	cancel()
	<-done

	_, failed, _ := link.snapshot()
	if failed {
		t.Error("link should not be marked failed after a clean shutdown")
	}
}

func TestSerialReceiverSkipsBadLines(t *testing.T) {
	ports := newPipePorts()
	var latest Latest
	cancel, done := startReceiver(t, SerialConfig{
		RetryInterval: time.Millisecond,
		ListPorts:     func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
		OpenPort:      ports.open,
	}, &latest, nil)

	pw := <-ports.opened
	io.WriteString(pw, "\xff\xfe\n")
	io.WriteString(pw, "garbage\n")
	io.WriteString(pw, "\n")
	if _, _, ok := latest.Load(); ok {
		t.Error("bad lines should not produce a reading")
	}
	io.WriteString(pw, "0,1,1,0,0,1,0,1,0,1\n")

	waitFor(t, "reading", func() bool {
		r, _, ok := latest.Load()
		return ok && r == readingWithOpen(2)
	})

	cancel()
	<-done
}

func TestSerialReceiverReconnects(t *testing.T) {
	ports := newPipePorts()
	var latest Latest
	link := &fakeLink{}
	cancel, done := startReceiver(t, SerialConfig{
		RetryInterval: time.Millisecond,
		ListPorts:     func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
		OpenPort:      ports.open,
	}, &latest, link)

	first := <-ports.opened
	first.CloseWithError(errors.New("device unplugged"))

	second := <-ports.opened
	io.WriteString(second, "1,0,0,1,0,1,0,1,0,1\n")

	waitFor(t, "reading after reconnect", func() bool {
		r, _, ok := latest.Load()
		return ok && r == readingWithOpen(1)
	})

	cancel()
	<-done

	_, failed, events := link.snapshot()
	if failed {
		t.Error("expected fail flag cleared after reconnect")
	}
	want := []string{"fail=true", "fail=false"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events: got %v, want %v", events, want)
	}
}

func TestSerialReceiverWaitsForPort(t *testing.T) {
	var mu sync.Mutex
	available := false
	ports := newPipePorts()
	link := &fakeLink{}
	var latest Latest

	cancel, done := startReceiver(t, SerialConfig{
		RetryInterval: time.Millisecond,
		ListPorts: func() ([]string, error) {
			mu.Lock()
			defer mu.Unlock()
			if !available {
				return nil, nil
			}
			return []string{"/dev/ttyACM0"}, nil
		},
		OpenPort: ports.open,
	}, &latest, link)

	waitFor(t, "waiting flag", func() bool {
		waiting, _, _ := link.snapshot()
		return waiting
	})

	mu.Lock()
	available = true
	mu.Unlock()

	<-ports.opened
	waitFor(t, "waiting cleared", func() bool {
		waiting, _, _ := link.snapshot()
		return !waiting
	})

	cancel()
	<-done
}

func TestSerialReceiverOpenFailure(t *testing.T) {
	link := &fakeLink{}
	var latest Latest
	var mu sync.Mutex
	attempts := 0

	cancel, done := startReceiver(t, SerialConfig{
		RetryInterval: time.Millisecond,
		ListPorts:     func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
		OpenPort: func(name string, baud int) (io.ReadCloser, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, errors.New("permission denied")
		},
	}, &latest, link)

	waitFor(t, "retries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 3
	})
	_, failed, _ := link.snapshot()
	if !failed {
		t.Error("expected fail flag while port cannot be opened")
	}

	cancel()
	<-done
}
