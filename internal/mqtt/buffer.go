package mqtt

import "github.com/rs/zerolog"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// rank orders messages by how much is lost if they are dropped. A page
// change is superseded by the next one and heartbeats repeat, but a fault
// report is the only record that a switch misbehaved.
func (m bufferedMsg) rank() int {
	switch m.topic {
	case TopicFaults:
		return 2
	case TopicSystem:
		return 1
	default:
		return 0
	}
}

// outbox holds messages published while disconnected, in publish order.
// When full, the oldest message of the lowest rank is dropped, so faults
// outlive page changes. Not safe for concurrent use; the caller must
// synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  map[string]int // per topic, since last drain
	logger   zerolog.Logger
}

func newOutbox(capacity int, logger zerolog.Logger) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if len(o.msgs) < o.capacity {
		o.msgs = append(o.msgs, msg)
		return
	}

	victim := -1
	for i, m := range o.msgs {
		if victim < 0 || m.rank() < o.msgs[victim].rank() {
			victim = i
		}
	}
	if victim < 0 || msg.rank() < o.msgs[victim].rank() {
		o.drop(msg)
		return
	}
	o.drop(o.msgs[victim])
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) drop(msg bufferedMsg) {
	if o.dropped == nil {
		o.dropped = make(map[string]int)
		o.logger.Warn().Int("capacity", o.capacity).Msg("mqtt buffer full, dropping lowest priority messages")
	}
	o.dropped[msg.topic]++
}

// drainAll returns the buffered messages oldest first and empties the outbox.
func (o *outbox) drainAll() []bufferedMsg {
	if len(o.dropped) > 0 {
		ev := o.logger.Warn()
		for topic, n := range o.dropped {
			ev = ev.Int(topic, n)
		}
		ev.Msg("mqtt messages dropped while disconnected")
		o.dropped = nil
	}
	if len(o.msgs) == 0 {
		return nil
	}
	result := o.msgs
	o.msgs = make([]bufferedMsg, 0, o.capacity)
	return result
}

func (o *outbox) len() int {
	return len(o.msgs)
}
