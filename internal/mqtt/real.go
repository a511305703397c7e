package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/logic"
)

// DefaultClientID identifies the kiosk to the broker.
const DefaultClientID = "book-kiosk"

// bufferCapacity bounds how many messages are held while disconnected.
const bufferCapacity = 256

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	logger zerolog.Logger

	mu     sync.Mutex
	buffer *outbox
}

// NewRealPublisher creates a publisher for the given broker. The initial
// connection is retried in the background; a slow broker does not block
// startup beyond the connect timeout.
func NewRealPublisher(broker, clientID string, logger zerolog.Logger) (*RealPublisher, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}
	p := &RealPublisher{
		logger: logger,
		buffer: newOutbox(bufferCapacity, logger),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(WillPayload(time.Now())), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info().Str("broker", broker).Msg("mqtt connected")
			go p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn().Err(err).Msg("mqtt connection lost")
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		logger.Warn().Str("broker", broker).Msg("mqtt connect timeout, retrying in background")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// PublishPageChange sends a page change event.
func (p *RealPublisher) PublishPageChange(change logic.PageChange) error {
	payload, err := FormatPageChange(change)
	if err != nil {
		return fmt.Errorf("format page change: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: TopicEvents, payload: payload})
}

// PublishFault sends a switch fault.
func (p *RealPublisher) PublishFault(fault logic.Fault) error {
	payload, err := FormatFault(fault)
	if err != nil {
		return fmt.Errorf("format fault: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicFaults, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) so shutdown is delivered
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays messages buffered while disconnected.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.buffer.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}

	p.logger.Info().Int("count", len(msgs)).Msg("replaying buffered mqtt messages")
	for _, m := range msgs {
		if err := p.publish(m); err != nil {
			p.logger.Warn().Err(err).Str("topic", m.topic).Msg("replay failed")
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
