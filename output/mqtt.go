package output

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	iface "PresenceSensor/interface"
)

const DefaultPublishTimeout = 2 * time.Second

// Publisher is the subset of mqtt.Client used for publishing.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Message struct {
	Presence  bool  `json:"presence"`
	Timestamp int64 `json:"timestamp"`
}

// MQTT publishes every presence update as a retained JSON message.
type MQTT struct {
	Topic   string
	QoS     byte
	Timeout time.Duration

	client Publisher
	now    func() time.Time
}

func NewMQTT(client Publisher, topic string) *MQTT {
	return &MQTT{
		Topic:   topic,
		QoS:     1,
		Timeout: DefaultPublishTimeout,
		client:  client,
		now:     time.Now,
	}
}

// DialMQTT connects to broker and returns a sink publishing on topic.
func DialMQTT(broker, clientID, topic string) (*MQTT, mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, nil, iface.NewConfigError("mqtt", fmt.Errorf("connect to %s: timeout", broker))
	}
	if err := token.Error(); err != nil {
		return nil, nil, iface.NewConfigError("mqtt", fmt.Errorf("connect to %s: %w", broker, err))
	}
	return NewMQTT(c, topic), c, nil
}

func (m *MQTT) Set(active bool) error {
	payload, err := json.Marshal(Message{Presence: active, Timestamp: m.now().UnixMilli()})
	if err != nil {
		return err
	}
	token := m.client.Publish(m.Topic, m.QoS, true, payload)
	if !token.WaitTimeout(m.Timeout) {
		return fmt.Errorf("mqtt publish %s: timeout", m.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.Topic, err)
	}
	return nil
}
