package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"avaneesh/malspp-go/pkg/config"
	"avaneesh/malspp-go/pkg/malspp"
	"avaneesh/malspp-go/pkg/registry"
)

var (
	// Global flags
	cfgFile    string
	logLevel   string
	frameDebug bool

	// Shared state set during PersistentPreRun
	cfg config.Config
)

// rootCmd is the base command for malspp.
var rootCmd = &cobra.Command{
	Use:   "malspp",
	Short: "MAL over Space Packet transport node",
	Long: `malspp runs a MAL/SPP node over a TCP, UDP or QUIC packet channel.
It can listen for interactions on a set of endpoints, send single
interactions, and decode captured space packets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		malspp.ConfigureLoggingFromEnv()

		cfg = config.Default()
		if cfgFile != "" {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}

		// Override config with flags
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if frameDebug {
			cfg.Log.FrameDebug = true
		}

		level, err := malspp.ParseLogLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		malspp.SetLogLevel(level)
		malspp.EnableFrameDebug(cfg.Log.FrameDebug)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadRegistry returns the registry named in the config, or nil when
// none is configured.
func loadRegistry() (*registry.Static, error) {
	if cfg.Registry == "" {
		return nil, nil
	}
	reg := registry.NewStatic()
	if err := reg.LoadFile(cfg.Registry); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return reg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&frameDebug, "frame-debug", false, "hex dump every packet sent and received")
}
