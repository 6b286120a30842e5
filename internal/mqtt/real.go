package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/helifx/internal/logic"
)

const publishTimeout = 5 * time.Second

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are held in an outbox and replayed on reconnect, so
// startup never waits for the broker.
type RealPublisher struct {
	client client
	now    func() time.Time

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher starts connecting to broker in the background. A
// retained SHUTDOWN with reason MQTT_DISCONNECT is registered as the will.
func NewRealPublisher(broker string) *RealPublisher {
	p := &RealPublisher{now: time.Now, outbox: newOutbox(outboxCapacity)}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("helifx").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c := paho.NewClient(opts)
	p.client = c
	c.Connect()
	return p
}

// newPublisher wraps an existing client. Used by tests.
func newPublisher(c client, now func() time.Time) *RealPublisher {
	return &RealPublisher{client: c, now: now, outbox: newOutbox(outboxCapacity)}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends an effect event. QoS 0, not retained.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(pendingMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event. QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(pendingMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// send publishes msg, or holds it if the connection is down or the
// publish fails.
func (p *RealPublisher) send(msg pendingMsg) error {
	if !p.client.IsConnectionOpen() {
		p.hold(msg)
		return nil
	}
	if err := p.publish(msg); err != nil {
		p.hold(msg)
		return err
	}
	return nil
}

func (p *RealPublisher) publish(msg pendingMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) hold(msg pendingMsg) {
	p.mu.Lock()
	p.outbox.push(msg)
	p.mu.Unlock()
}

// Pending returns the number of messages waiting for the broker.
func (p *RealPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// onConnect announces the reconnection and replays held messages in order.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	msgs, dropped := p.outbox.take()
	p.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d held messages (%d dropped)", len(msgs), dropped)
	reconnected, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
	if err := p.publish(pendingMsg{topic: TopicSystem, payload: reconnected, qos: 1}); err != nil {
		log.Printf("mqtt: %v", err)
	}
	for i, msg := range msgs {
		if err := p.publish(msg); err != nil {
			log.Printf("mqtt: replay stopped: %v", err)
			p.mu.Lock()
			for _, m := range msgs[i:] {
				p.outbox.push(m)
			}
			p.mu.Unlock()
			return
		}
	}
}

// Close disconnects from the broker, allowing one second for in-flight work.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
