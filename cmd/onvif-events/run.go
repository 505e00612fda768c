package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	onvif "github.com/SridarDhandapani/onvif-events"
	"github.com/SridarDhandapani/onvif-events/internal/config"
	"github.com/SridarDhandapani/onvif-events/internal/httpfeed"
	"github.com/SridarDhandapani/onvif-events/internal/log"
	"github.com/SridarDhandapani/onvif-events/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Receive events until interrupted, reconnecting on failure",
	RunE:  runReceive,
}

func init() {
	flags := runCmd.Flags()
	flags.Duration("termination-time", 60*time.Second, "Requested subscription lease, renewed at half time")
	flags.Duration("reconnect-delay", 5*time.Second, "Wait between connection attempts")
	flags.StringP("output", "o", "text", "Event output format (text, json, yaml, none)")
	flags.String("http-listen", "", "Serve /healthz, /events, /states and /metrics on this address")
	flags.String("mqtt-broker", "", "Forward events to this MQTT broker, e.g. tcp://localhost:1883")
	flags.String("mqtt-topic", "onvif/events", "Base MQTT topic")
	flags.Int("mqtt-qos", 0, "MQTT QoS (0, 1, 2)")

	v.BindPFlag(config.KeyTerminationTime, flags.Lookup("termination-time"))
	v.BindPFlag(config.KeyReconnectDelay, flags.Lookup("reconnect-delay"))
	v.BindPFlag(config.KeyOutputFormat, flags.Lookup("output"))
	v.BindPFlag(config.KeyHTTPListen, flags.Lookup("http-listen"))
	v.BindPFlag(config.KeyMQTTBroker, flags.Lookup("mqtt-broker"))
	v.BindPFlag(config.KeyMQTTTopic, flags.Lookup("mqtt-topic"))
	v.BindPFlag(config.KeyMQTTQoS, flags.Lookup("mqtt-qos"))
}

func runReceive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	params, err := onvif.NewConnectionParameters(cfg.Device.Address, cfg.Device.Username, cfg.Device.Password, cfg.Device.Timeout)
	if err != nil {
		return err
	}
	logger := log.WithComponent("run").With().Str("device", params.URI.Host).Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer, err := sink.NewWriter(cmd.OutOrStdout(), cfg.Output.Format, params.URI.Host)
	if err != nil {
		return err
	}
	sinks := []sink.EventSink{writer}

	var recorder *httpfeed.Recorder
	if cfg.HTTP.Listen != "" {
		recorder = httpfeed.NewRecorder(params.URI.Host, 256)
		sinks = append(sinks, recorder)
	}

	if cfg.MQTT.Broker != "" {
		forwarder, err := sink.DialMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      byte(cfg.MQTT.QoS),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, params.URI.Host, log.WithComponent("mqtt"))
		if err != nil {
			return err
		}
		defer forwarder.Close()
		sinks = append(sinks, forwarder)
	}

	supervisor := onvif.NewSupervisor(
		onvif.HTTPReceiverFactory{
			TerminationTime: cfg.Subscription.TerminationTime,
			InsecureTLS:     cfg.Device.InsecureTLS,
		},
		onvif.WithReconnectDelay(cfg.Reconnect.Delay),
	)
	events, cancelEvents := supervisor.SubscribeEvents(256)
	defer cancelEvents()
	states, cancelStates := supervisor.SubscribeStates(64)
	defer cancelStates()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer supervisor.Close()
		return supervisor.Run(gctx, params)
	})
	g.Go(func() error {
		sink.Pump(context.Background(), events, logger, sinks...)
		return nil
	})
	g.Go(func() error {
		for info := range states {
			if err := writer.WriteState(info); err != nil {
				logger.Warn().Err(err).Msg("writing state")
			}
			if recorder != nil {
				recorder.RecordState(info)
			}
		}
		return nil
	})
	if recorder != nil {
		g.Go(func() error {
			return httpfeed.Serve(gctx, cfg.HTTP.Listen, httpfeed.NewRouter(recorder, log.WithComponent("http")), logger)
		})
	}

	err = g.Wait()
	if errors.Is(err, onvif.ErrFatal) {
		logger.Error().Err(err).Msg("receiver terminated")
	}
	return err
}
