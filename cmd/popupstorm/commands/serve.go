package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"popupstorm/internal/api"
	"popupstorm/internal/config"
	"popupstorm/internal/engine"
	"popupstorm/internal/logger"
	"popupstorm/internal/surface"
)

var (
	headlessFlag  bool
	autostartFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the popupstorm engine and control server",
	Long: `Start the popup engine with its HTTP control server.

The engine idles until started via POST /api/start (or --autostart); the
control panel drives it through the REST API and streams logs over a
websocket.`,
	Example: `  # Start and wait for the control panel
  popupstorm serve

  # Start spawning popups immediately
  popupstorm serve --autostart

  # Run without a display (development)
  popupstorm serve --headless

  # Custom port and debug logging
  popupstorm serve --port 9090 --log-level debug`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&headlessFlag, "headless", false, "use the in-memory backend instead of X11")
	serveCmd.Flags().BoolVar(&autostartFlag, "autostart", false, "start spawning popups immediately")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Flag overrides
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	settings := configMgr.Get()
	logger.Init(settings.LogLevel, true)
	log := logger.WithComponent("serve")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	backend := buildBackend()
	defer backend.Close()

	eng := engine.New(configMgr, backend)
	defer eng.Close()

	server := api.NewServer(eng, configMgr)
	go func() {
		if err := server.Start(settings.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("Control server failed")
		}
	}()

	if autostartFlag {
		if err := eng.Start(); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
	}

	log.Info().
		Int("port", settings.ServerPort).
		Str("backend", backend.Name()).
		Bool("autostart", autostartFlag).
		Msg("popupstorm is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	return nil
}

// buildBackend connects to X11, falling back to the in-memory backend when no
// display is reachable or --headless was given.
func buildBackend() surface.Backend {
	if headlessFlag {
		return surface.NewHeadlessBackend()
	}

	backend, err := surface.NewX11Backend()
	if err != nil {
		logger.WithComponent("serve").Warn().Err(err).Msg("X11 unavailable, using headless backend")
		return surface.NewHeadlessBackend()
	}
	return backend
}
