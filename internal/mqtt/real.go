package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const defaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string

	// BufferSize bounds how many messages are held while disconnected.
	BufferSize int
	Logger     *slog.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	prefix string
	log    *slog.Logger

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &RealPublisher{
		prefix: opts.TopicPrefix,
		log:    opts.Logger,
		buf:    newRingBuffer(opts.BufferSize, opts.Logger),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(Topic(p.prefix, TopicSystem), string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn("mqtt connection lost", "err", err)
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()

	if len(msgs) > 0 {
		p.log.Info("mqtt connected, replaying buffered messages", "count", len(msgs))
	}
	for _, m := range msgs {
		if err := p.send(m); err != nil {
			p.log.Warn("mqtt replay failed", "topic", m.topic, "err", err)
		}
	}
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

func (p *RealPublisher) publish(suffix string, qos byte, retained bool, payload []byte) error {
	m := bufferedMsg{topic: Topic(p.prefix, suffix), payload: payload, qos: qos, retained: retained}
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	return p.send(m)
}

// PublishDecision sends a cycle decision, QoS 0.
func (p *RealPublisher) PublishDecision(e DecisionEvent) error {
	payload, err := FormatDecisionPayload(e)
	if err != nil {
		return fmt.Errorf("format decision payload: %w", err)
	}
	return p.publish(TopicDecision, 0, false, payload)
}

// PublishStep sends a shutdown step result, QoS 1.
func (p *RealPublisher) PublishStep(e StepEvent) error {
	payload, err := FormatStepPayload(e)
	if err != nil {
		return fmt.Errorf("format step payload: %w", err)
	}
	return p.publish(TopicStep, 1, false, payload)
}

// PublishSystem sends a lifecycle event, QoS 1.
func (p *RealPublisher) PublishSystem(e SystemEvent) error {
	payload, err := FormatSystemPayload(e)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, e.Retained, payload)
}

// PublishAlert sends an operator alert, QoS 1.
func (p *RealPublisher) PublishAlert(msg string, ts time.Time) error {
	payload, err := FormatAlertPayload(msg, ts)
	if err != nil {
		return fmt.Errorf("format alert payload: %w", err)
	}
	return p.publish(TopicAlert, 1, false, payload)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
