package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "popupstorm",
		Short: "popupstorm - novelty popup display engine",
		Long: `popupstorm spawns borderless popup windows showing images, GIFs and
video clips drawn from zip-format media bundles, optionally bouncing them
around the screen, until told to stop.

Features:
  • Media bundles (.pst / .zip) with images, GIFs and videos
  • Weighted random scheduling across media kinds
  • Bounce physics with a bounded window pool
  • Multi-monitor aware (X11/Xinerama)
  • REST API + websocket log stream for a control panel
  • Panic teardown that clears everything at once`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/popupstorm/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "control server port (default is 8791)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
