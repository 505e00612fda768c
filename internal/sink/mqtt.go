package sink

import (
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	onvif "github.com/SridarDhandapani/onvif-events"
)

const mqttPublishTimeout = 5 * time.Second

// MQTTConfig selects the broker and topic events are forwarded to.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Username string
	Password string
}

// publisher is the part of paho.Client the forwarder uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// MQTTForwarder publishes every event as a JSON Record below a base topic.
type MQTTForwarder struct {
	client publisher
	topic  string
	qos    byte
	device string
}

// DialMQTT connects to the broker and returns a forwarder for device.
func DialMQTT(cfg MQTTConfig, device string, logger zerolog.Logger) (*MQTTForwarder, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Annotatef(token.Error(), "connecting to broker %s", cfg.Broker)
	}
	return newMQTTForwarder(client, cfg.Topic, cfg.QoS, device), nil
}

func newMQTTForwarder(client publisher, topic string, qos byte, device string) *MQTTForwarder {
	return &MQTTForwarder{client: client, topic: strings.TrimSuffix(topic, "/"), qos: qos, device: device}
}

// TopicFor maps an ONVIF topic such as tns1:RuleEngine/CellMotionDetector/Motion to the
// MQTT topic it is published on.
func (f *MQTTForwarder) TopicFor(eventTopic string) string {
	eventTopic = strings.Trim(eventTopic, "/")
	if eventTopic == "" {
		return f.topic
	}
	// wildcards are not allowed in published topics
	eventTopic = strings.NewReplacer("#", "_", "+", "_").Replace(eventTopic)
	return f.topic + "/" + eventTopic
}

// HandleEvent implements EventSink.
func (f *MQTTForwarder) HandleEvent(event onvif.DeviceEvent) error {
	payload, err := json.Marshal(NewRecord(f.device, event))
	if err != nil {
		return errors.Annotate(err, "encoding event")
	}
	token := f.client.Publish(f.TopicFor(event.Topic), f.qos, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errors.Timeoutf("publishing to %s", f.TopicFor(event.Topic))
	}
	return errors.Trace(token.Error())
}

// Close disconnects from the broker, waiting briefly for in-flight messages.
func (f *MQTTForwarder) Close() {
	f.client.Disconnect(250)
}
