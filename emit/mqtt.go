package emit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MQTTParams defines the MQTT publisher settings
type MQTTParams struct {
	// Broker is the host:port of the broker
	Broker string
	// Prefix and Instance form the topic <prefix>/<instance>/skeleton
	Prefix   string
	Instance string
	QoS      byte
	// Encoding is json or msgpack
	Encoding       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTDefaultParams returns QoS 0 JSON publishing settings
func MQTTDefaultParams() MQTTParams {
	return MQTTParams{
		Broker:         "localhost:1883",
		Prefix:         "posepuppet",
		Instance:       "posepuppet",
		Encoding:       EncodingJSON,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// MQTTStats contains publisher statistics
type MQTTStats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// MQTT publishes skeleton messages to a broker
type MQTT struct {
	params    MQTTParams
	client    mqtt.Client
	topic     string
	log       logrus.FieldLogger
	published atomic.Uint64
	errors    atomic.Uint64
	connected atomic.Bool
}

// NewMQTT returns a publisher for the broker.  Call Connect before
// publishing
func NewMQTT(p MQTTParams, log logrus.FieldLogger) *MQTT {

	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &MQTT{
		params: p,
		topic:  Topic(p.Prefix, p.Instance),
		log:    log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", p.Broker))
	opts.SetClientID(fmt.Sprintf("%s-%s", p.Instance, uuid.NewString()))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.connected.Store(true)
		m.log.WithField("broker", p.Broker).Info("MQTT connection established")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.connected.Store(false)
		m.log.WithError(err).WithField("broker", p.Broker).
			Warn("MQTT connection lost, will auto-reconnect")
	}

	m.client = mqtt.NewClient(opts)

	return m
}

// newMQTTWithClient returns a publisher using an existing client
func newMQTTWithClient(p MQTTParams, client mqtt.Client, log logrus.FieldLogger) *MQTT {
	m := &MQTT{
		params: p,
		client: client,
		topic:  Topic(p.Prefix, p.Instance),
		log:    log,
	}
	m.connected.Store(client.IsConnected())
	return m
}

// Topic returns the skeleton topic of an instance
func Topic(prefix, instance string) string {
	return fmt.Sprintf("%s/%s/skeleton", prefix, instance)
}

// Connect establishes the broker connection
func (m *MQTT) Connect(ctx context.Context) error {

	m.log.WithField("broker", m.params.Broker).Info("Connecting to MQTT broker")

	token := m.client.Connect()

	select {
	case <-token.Done():
	case <-time.After(m.params.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	m.connected.Store(true)

	return nil
}

// Publish sends the message to the skeleton topic
func (m *MQTT) Publish(ctx context.Context, msg Message) error {

	if !m.connected.Load() {
		m.errors.Add(1)
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := Encode(msg, m.params.Encoding)

	if err != nil {
		m.errors.Add(1)
		return fmt.Errorf("failed to marshal skeleton message: %w", err)
	}

	token := m.client.Publish(m.topic, m.params.QoS, false, payload)

	select {
	case <-token.Done():
	case <-time.After(m.params.PublishTimeout):
		m.errors.Add(1)
		return fmt.Errorf("publish timeout")
	case <-ctx.Done():
		m.errors.Add(1)
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		m.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	m.published.Add(1)

	m.log.WithFields(logrus.Fields{
		"topic": m.topic,
		"seq":   msg.Seq,
		"size":  len(payload),
	}).Trace("Skeleton published")

	return nil
}

// Stats returns publisher statistics
func (m *MQTT) Stats() MQTTStats {
	return MQTTStats{
		Connected: m.connected.Load(),
		Published: m.published.Load(),
		Errors:    m.errors.Load(),
	}
}

// Close disconnects from the broker
func (m *MQTT) Close() error {

	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.log.Info("MQTT disconnected")
	}

	m.connected.Store(false)

	return nil
}
