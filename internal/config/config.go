// Package config loads receiver settings from flags, environment and an optional YAML file.
package config

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/viper"

	onvif "github.com/SridarDhandapani/onvif-events"
)

// EnvPrefix prefixes every environment variable, e.g. ONVIF_EVENTS_DEVICE_ADDRESS.
const EnvPrefix = "ONVIF_EVENTS"

// Keys
const (
	KeyDeviceAddress   = "device.address"
	KeyDeviceUsername  = "device.username"
	KeyDevicePassword  = "device.password"
	KeyDeviceTimeout   = "device.timeout"
	KeyInsecureTLS     = "device.insecure_tls"
	KeyTerminationTime = "subscription.termination_time"
	KeyReconnectDelay  = "reconnect.delay"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyOutputFormat    = "output.format"
	KeyHTTPListen      = "http.listen"
	KeyMQTTBroker      = "mqtt.broker"
	KeyMQTTTopic       = "mqtt.topic"
	KeyMQTTClientID    = "mqtt.client_id"
	KeyMQTTQoS         = "mqtt.qos"
	KeyMQTTUsername    = "mqtt.username"
	KeyMQTTPassword    = "mqtt.password"
)

// Config is the resolved configuration of one receiver process.
type Config struct {
	Device       Device
	Subscription Subscription
	Reconnect    Reconnect
	Log          Log
	Output       Output
	HTTP         HTTP
	MQTT         MQTT
}

type Device struct {
	Address     string
	Username    string
	Password    string
	Timeout     time.Duration
	InsecureTLS bool
}

type Subscription struct {
	TerminationTime time.Duration
}

type Reconnect struct {
	Delay time.Duration
}

type Log struct {
	Level  string
	Format string
}

type Output struct {
	Format string
}

// HTTP configures the status endpoint. An empty Listen disables it.
type HTTP struct {
	Listen string
}

// MQTT configures event forwarding. An empty Broker disables it.
type MQTT struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      int
	Username string
	Password string
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDeviceTimeout, 15*time.Second)
	v.SetDefault(KeyInsecureTLS, false)
	v.SetDefault(KeyTerminationTime, 60*time.Second)
	v.SetDefault(KeyReconnectDelay, 5*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyOutputFormat, "text")
	v.SetDefault(KeyMQTTTopic, "onvif/events")
	v.SetDefault(KeyMQTTClientID, "onvif-events")
	v.SetDefault(KeyMQTTQoS, 0)
}

// ReadFile merges a YAML configuration file into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Annotatef(err, "reading config file %s", path)
	}
	return nil
}

// Load resolves v into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Device: Device{
			Address:     strings.TrimSpace(v.GetString(KeyDeviceAddress)),
			Username:    v.GetString(KeyDeviceUsername),
			Password:    v.GetString(KeyDevicePassword),
			Timeout:     v.GetDuration(KeyDeviceTimeout),
			InsecureTLS: v.GetBool(KeyInsecureTLS),
		},
		Subscription: Subscription{TerminationTime: v.GetDuration(KeyTerminationTime)},
		Reconnect:    Reconnect{Delay: v.GetDuration(KeyReconnectDelay)},
		Log: Log{
			Level:  strings.ToLower(v.GetString(KeyLogLevel)),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
		},
		Output: Output{Format: strings.ToLower(v.GetString(KeyOutputFormat))},
		HTTP:   HTTP{Listen: v.GetString(KeyHTTPListen)},
		MQTT: MQTT{
			Broker:   v.GetString(KeyMQTTBroker),
			Topic:    v.GetString(KeyMQTTTopic),
			ClientID: v.GetString(KeyMQTTClientID),
			QoS:      v.GetInt(KeyMQTTQoS),
			Username: v.GetString(KeyMQTTUsername),
			Password: v.GetString(KeyMQTTPassword),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.Device.Address == "" {
		return errors.NotValidf("empty %s", KeyDeviceAddress)
	}
	if c.Device.Timeout <= 0 {
		return errors.NotValidf("%s %v", KeyDeviceTimeout, c.Device.Timeout)
	}
	if c.Subscription.TerminationTime < 2*time.Second {
		return errors.NotValidf("%s %v (minimum 2s)", KeyTerminationTime, c.Subscription.TerminationTime)
	}
	if c.Subscription.TerminationTime > onvif.MaxTerminationTime {
		return errors.NotValidf("%s %v (maximum %v)", KeyTerminationTime, c.Subscription.TerminationTime, onvif.MaxTerminationTime)
	}
	if c.Subscription.TerminationTime%time.Second != 0 {
		return errors.NotValidf("%s %v (whole seconds only)", KeyTerminationTime, c.Subscription.TerminationTime)
	}
	if c.Reconnect.Delay < 0 {
		return errors.NotValidf("%s %v", KeyReconnectDelay, c.Reconnect.Delay)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.NotValidf("%s %q", KeyLogFormat, c.Log.Format)
	}
	switch c.Output.Format {
	case "text", "json", "yaml", "none":
	default:
		return errors.NotValidf("%s %q", KeyOutputFormat, c.Output.Format)
	}
	if c.MQTT.Broker != "" {
		if c.MQTT.Topic == "" {
			return errors.NotValidf("empty %s", KeyMQTTTopic)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return errors.NotValidf("%s %d", KeyMQTTQoS, c.MQTT.QoS)
		}
	}
	return nil
}
