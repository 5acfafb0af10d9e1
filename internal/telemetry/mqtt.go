// Package telemetry publishes live readings and fault scans to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/gavinwade12/motodiag/protocols/obd"
)

const (
	DefaultBroker      = "tcp://localhost:1883"
	DefaultClientID    = "motodiag"
	DefaultTopicPrefix = "motodiag"

	publishTimeout = 5 * time.Second
)

// Config holds the broker settings.
type Config struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"clientId"`
	TopicPrefix string `mapstructure:"topicPrefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// Client is the part of mqtt.Client used by the Publisher.
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends readings and scans as JSON to <prefix>/live and
// <prefix>/dtc.
type Publisher struct {
	client Client
	prefix string
	logger obd.Logger
}

// NewPublisher returns a Publisher for a paho client built from cfg.
func NewPublisher(cfg Config, l obd.Logger) *Publisher {
	if cfg.Broker == "" {
		cfg.Broker = DefaultBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if l != nil {
			l.Debugf("mqtt connection lost: %v", err)
		}
	})

	return NewPublisherWithClient(mqtt.NewClient(opts), cfg.TopicPrefix, l)
}

// NewPublisherWithClient returns a Publisher using client.
func NewPublisherWithClient(client Client, prefix string, l obd.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if l == nil {
		l = obd.NopLogger
	}
	return &Publisher{client: client, prefix: prefix, logger: l}
}

// Connect connects to the broker.
func (p *Publisher) Connect() error {
	if err := wait(p.client.Connect()); err != nil {
		return errors.Wrap(err, "connecting to mqtt broker")
	}
	p.logger.Debugf("connected to mqtt broker, publishing under %s/", p.prefix)
	return nil
}

// LivePayload is the message published for a reading. Null responses are
// left out of Values.
type LivePayload struct {
	Timestamp time.Time              `json:"timestamp"`
	Values    map[string]interface{} `json:"values"`
}

// DTCPayload is the message published for a fault scan.
type DTCPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Codes     []obd.DTC `json:"codes"`
}

// PublishReading publishes r to <prefix>/live.
func (p *Publisher) PublishReading(r obd.Reading) error {
	payload := LivePayload{Timestamp: r.Time, Values: make(map[string]interface{}, len(r.Values))}
	for name, resp := range r.Values {
		if !resp.IsNull() {
			payload.Values[name] = resp.Value
		}
	}
	return p.publish(p.prefix+"/live", payload)
}

// PublishDTCs publishes the result of a fault scan to <prefix>/dtc.
func (p *Publisher) PublishDTCs(dtcs []obd.DTC, at time.Time) error {
	if dtcs == nil {
		dtcs = []obd.DTC{}
	}
	return p.publish(p.prefix+"/dtc", DTCPayload{Timestamp: at, Codes: dtcs})
}

func (p *Publisher) publish(topic string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encoding payload for %s", topic)
	}
	if err = wait(p.client.Publish(topic, 0, false, b)); err != nil {
		return errors.Wrapf(err, "publishing to %s", topic)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(publishTimeout) {
		return errors.New("timed out waiting for broker")
	}
	return t.Error()
}
