package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// MQTTSink republishes hub events to <topic>/<event name> on a broker.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client

	connected atomic.Bool
	published atomic.Uint64
	failed    atomic.Uint64
}

func NewMQTTSink(cfg MQTTConfig) *MQTTSink {
	if cfg.Topic == "" {
		cfg.Topic = "posture"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "posture-" + time.Now().Format("150405")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTTSink{cfg: cfg}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (s *MQTTSink) Topic(event string) string {
	return s.cfg.Topic + "/" + event
}

func (s *MQTTSink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		s.connected.Store(true)
		log.Infow("mqtt connection established", "broker", s.cfg.Broker, "client_id", s.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		log.Warnw("mqtt connection lost, will auto-reconnect", "broker", s.cfg.Broker, "err", err)
	}
	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(s.cfg.Timeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	s.connected.Store(true)
	return nil
}

// Run forwards events from hub until ctx is done or the hub closes.
func (s *MQTTSink) Run(ctx context.Context, hub *Hub[Event]) error {
	sub, err := hub.Subscribe(SubscribeOptions{Buffer: 64, Policy: DropOldest})
	if err != nil {
		return err
	}
	defer sub.Close()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := s.Publish(ev); err != nil {
				log.Warnw("mqtt publish failed", "event", ev.Name, "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *MQTTSink) Publish(ev Event) error {
	if s.client == nil || !s.connected.Load() {
		s.failed.Add(1)
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		s.failed.Add(1)
		return fmt.Errorf("marshal %s: %w", ev.Name, err)
	}
	token := s.client.Publish(s.Topic(ev.Name), s.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		s.failed.Add(1)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}
	s.published.Add(1)
	return nil
}

func (s *MQTTSink) Counts() (published, failed uint64) {
	return s.published.Load(), s.failed.Load()
}

func (s *MQTTSink) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.connected.Store(false)
}
