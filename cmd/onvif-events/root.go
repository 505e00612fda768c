package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/SridarDhandapani/onvif-events/internal/config"
	"github.com/SridarDhandapani/onvif-events/internal/log"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "onvif-events",
	Short: "Receive events from ONVIF devices",
	Long: `Receive events from ONVIF devices through pull point subscriptions.

Examples:
  onvif-events run -a 192.168.1.100 -u admin -p secret
  onvif-events run -a http://cam.local/onvif/device_service -o json --mqtt-broker tcp://localhost:1883
  onvif-events probe -a 192.168.1.100 -u admin -p secret`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(v, cfgFile); err != nil {
			return err
		}
		log.Configure(log.Config{
			Level:  v.GetString(config.KeyLogLevel),
			Format: v.GetString(config.KeyLogFormat),
		})
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML configuration file")
	flags.StringP("address", "a", "", "Device address: host, host:port or device service URL")
	flags.StringP("username", "u", "", "Device user name")
	flags.StringP("password", "p", "", "Device password")
	flags.Duration("timeout", 15*time.Second, "Timeout of every device call")
	flags.Bool("insecure", false, "Skip TLS certificate verification")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")

	v.BindPFlag(config.KeyDeviceAddress, flags.Lookup("address"))
	v.BindPFlag(config.KeyDeviceUsername, flags.Lookup("username"))
	v.BindPFlag(config.KeyDevicePassword, flags.Lookup("password"))
	v.BindPFlag(config.KeyDeviceTimeout, flags.Lookup("timeout"))
	v.BindPFlag(config.KeyInsecureTLS, flags.Lookup("insecure"))
	v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}
