package devicecmd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"intellikeeper/config"
)

// ErrPublisherClosed is returned by Connect once Close has been called.
var ErrPublisherClosed = errors.New("mqtt publisher closed")

// MQTTPublisher delivers queued commands to the device broker.
type MQTTPublisher struct {
	mu        sync.RWMutex
	cfg       config.MQTTConfig
	conn      mqtt.Client
	done      chan struct{}
	closeOnce sync.Once
}

func NewMQTTPublisher(cfg config.MQTTConfig) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg, done: make(chan struct{})}
}

// Connect dials the broker and blocks until the first connection succeeds
// or Close is called. The lock is only held while the client is installed.
func (p *MQTTPublisher) Connect() error {
	broker := fmt.Sprintf("tcp://%s:%d", p.cfg.Broker, p.cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)

	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return ErrPublisherClosed
	default:
	}
	p.conn = client
	p.mu.Unlock()

	token := client.Connect()
	for !token.WaitTimeout(250 * time.Millisecond) {
		select {
		case <-p.done:
			return ErrPublisherClosed
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := conn.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt publish to %s: timed out", topic)
	}
	return token.Error()
}

func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && p.conn.IsConnected()
}

// Close stops any pending Connect and disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.closeOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Disconnect(250)
	}
}
