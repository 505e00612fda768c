package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	onvif "github.com/SridarDhandapani/onvif-events"
	"github.com/SridarDhandapani/onvif-events/internal/config"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run the connection handshake once and print what the device reports",
	RunE:  runProbe,
}

type probeReport struct {
	DeviceService string                   `yaml:"device_service"`
	EventService  string                   `yaml:"event_service,omitempty"`
	PullPoint     bool                     `yaml:"pull_point_support"`
	DeviceTime    string                   `yaml:"device_time,omitempty"`
	State         string                   `yaml:"state"`
	Error         string                   `yaml:"error,omitempty"`
	Device        *onvif.DeviceInformation `yaml:"device,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	address := v.GetString(config.KeyDeviceAddress)
	params, err := onvif.NewConnectionParameters(address,
		v.GetString(config.KeyDeviceUsername), v.GetString(config.KeyDevicePassword), v.GetDuration(config.KeyDeviceTimeout))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*params.Timeout)
	defer cancel()

	factory := onvif.NewHTTPClientFactory(onvif.WithInsecureTLS(v.GetBool(config.KeyInsecureTLS)))
	session := onvif.NewSession(params, factory)

	report := probeReport{DeviceService: params.DeviceServiceURI().String()}
	connectErr := session.Connect(ctx)
	report.State = session.State().String()
	if caps := session.Capabilities(); caps != nil {
		report.PullPoint = caps.WSPullPointSupport
	}
	if connectErr != nil {
		report.Error = connectErr.Error()
	} else if addr, err := session.EventServiceAddress(); err == nil {
		report.EventService = addr.String()
	}

	if session.Capabilities() != nil {
		device := factory.NewDeviceClient(onvif.NewEndpointAddress(params.DeviceServiceURI()), params, onvif.Soap12)
		defer device.Close()
		if dt, err := device.GetSystemDateAndTime(ctx); err == nil && dt.UTC != nil {
			report.DeviceTime = dt.UTC.Format(time.RFC3339)
		}
		if info, err := device.GetDeviceInformation(ctx); err == nil {
			report.Device = info
		}
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return connectErr
}
