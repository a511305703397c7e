package mqtt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func pageMsg(i int) bufferedMsg { return bufferedMsg{topic: TopicEvents, payload: []byte{byte(i)}} }
func faultMsg(i int) bufferedMsg { return bufferedMsg{topic: TopicFaults, payload: []byte{byte(i)}, qos: 1} }
func systemMsg(i int) bufferedMsg {
	return bufferedMsg{topic: TopicSystem, payload: []byte{byte(i)}, qos: 1, retained: true}
}

// ids flattens drained messages to "topic-suffix:payload" pairs.
func ids(msgs []bufferedMsg) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.topic[strings.LastIndex(m.topic, "/")+1:]+":"+string('0'+rune(m.payload[0])))
	}
	return out
}

func TestOutboxEmptyDrain(t *testing.T) {
	ob := newOutbox(10, zerolog.Nop())
	if got := ob.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOutboxKeepsPublishOrder(t *testing.T) {
	ob := newOutbox(10, zerolog.Nop())
	ob.push(pageMsg(1))
	ob.push(faultMsg(2))
	ob.push(systemMsg(3))
	ob.push(pageMsg(4))

	got := strings.Join(ids(ob.drainAll()), " ")
	if got != "events:1 faults:2 system:3 events:4" {
		t.Errorf("order: got %s", got)
	}
	if ob.len() != 0 || ob.drainAll() != nil {
		t.Error("expected outbox empty after drain")
	}
}

func TestOutboxOverflowDropsOldestPageChange(t *testing.T) {
	ob := newOutbox(4, zerolog.Nop())
	ob.push(faultMsg(1))
	ob.push(pageMsg(2))
	ob.push(pageMsg(3))
	ob.push(faultMsg(4))
	ob.push(pageMsg(5))

	got := strings.Join(ids(ob.drainAll()), " ")
	if got != "faults:1 events:3 faults:4 events:5" {
		t.Errorf("got %s", got)
	}
}

func TestOutboxNeverDropsFaultBeforePageChange(t *testing.T) {
	ob := newOutbox(3, zerolog.Nop())
	ob.push(faultMsg(1))
	ob.push(faultMsg(2))
	ob.push(pageMsg(3))
	for i := 4; i < 8; i++ {
		ob.push(faultMsg(i))
	}

	got := ids(ob.drainAll())
	for _, id := range got {
		if strings.HasPrefix(id, "events") {
			t.Errorf("page change kept while faults were dropped: %v", got)
		}
	}
	if strings.Join(got, " ") != "faults:5 faults:6 faults:7" {
		t.Errorf("got %v", got)
	}
}

func TestOutboxDropsIncomingPageChangeWhenFullOfFaults(t *testing.T) {
	ob := newOutbox(2, zerolog.Nop())
	ob.push(faultMsg(1))
	ob.push(faultMsg(2))
	ob.push(pageMsg(3))

	if got := strings.Join(ids(ob.drainAll()), " "); got != "faults:1 faults:2" {
		t.Errorf("got %s", got)
	}
}

func TestOutboxDropsHeartbeatBeforeFault(t *testing.T) {
	ob := newOutbox(2, zerolog.Nop())
	ob.push(systemMsg(1))
	ob.push(faultMsg(2))
	ob.push(faultMsg(3))

	if got := strings.Join(ids(ob.drainAll()), " "); got != "faults:2 faults:3" {
		t.Errorf("got %s", got)
	}
}

func TestOutboxReportsDropsOnDrain(t *testing.T) {
	var logs bytes.Buffer
	ob := newOutbox(1, zerolog.New(&logs))
	ob.push(pageMsg(1))
	ob.push(pageMsg(2))
	ob.push(pageMsg(3))
	if n := strings.Count(logs.String(), "buffer full"); n != 1 {
		t.Errorf("expected one buffer-full warning, got %d: %s", n, logs.String())
	}

	got := ob.drainAll()
	if len(got) != 1 || got[0].payload[0] != 3 {
		t.Fatalf("expected only the newest event, got %v", ids(got))
	}
	if !strings.Contains(logs.String(), `"`+TopicEvents+`":2`) {
		t.Errorf("drain should report 2 dropped events: %s", logs.String())
	}

	// A fresh overflow after draining warns again.
	ob.push(pageMsg(4))
	ob.push(pageMsg(5))
	if n := strings.Count(logs.String(), "buffer full"); n != 2 {
		t.Errorf("expected a second buffer-full warning, got %d", n)
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	ob := newOutbox(10, zerolog.Nop())
	ob.push(bufferedMsg{
		topic:    TopicSystem,
		payload:  []byte(`{"status":"online"}`),
		qos:      1,
		retained: true,
	})

	got := ob.drainAll()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].topic != TopicSystem || string(got[0].payload) != `{"status":"online"}` || got[0].qos != 1 || !got[0].retained {
		t.Errorf("fields not preserved: %+v", got[0])
	}
}
