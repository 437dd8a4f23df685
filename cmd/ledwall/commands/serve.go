package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coreman2200/ledwall/internal/app"
	"github.com/coreman2200/ledwall/internal/config"
)

var (
	serveDriver     string
	serveColor      string
	serveAddr       string
	serveUDP        string
	servePipe       string
	serveFPS        int
	serveBrightness float64
	serveSimOnly    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the display loop and every configured frame transport",
	Long: `Run the wall. Settings come from the config file; flags given on the
command line override it. The topology is read from the configured store,
falling back to the inline topology in the config file.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveDriver, "driver", "", "output: spi | console | sim")
	f.StringVar(&serveColor, "color", "", "LED color order (e.g. GRB, RGB)")
	f.StringVar(&serveAddr, "addr", "", "HTTP listen address")
	f.StringVar(&serveUDP, "udp", "", "UDP frame listen address")
	f.StringVar(&servePipe, "pipe", "", "named pipe for frames")
	f.IntVar(&serveFPS, "fps", 0, "target frames per second")
	f.Float64Var(&serveBrightness, "brightness", 0, "global brightness 0..1")
	f.BoolVar(&serveSimOnly, "sim-only", false, "force simulation (no hardware output)")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads path, or returns the defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config not found; using defaults")
		return config.Default(), nil
	}
	return cfg, err
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("driver") {
		cfg.Driver = serveDriver
	}
	if f.Changed("color") {
		cfg.ColorOrder = serveColor
	}
	if f.Changed("addr") {
		cfg.Transports.HTTPAddr = serveAddr
	}
	if f.Changed("udp") {
		cfg.Transports.UDPAddr = serveUDP
	}
	if f.Changed("pipe") {
		cfg.Transports.PipePath = servePipe
	}
	if f.Changed("fps") {
		cfg.FPS = serveFPS
	}
	if f.Changed("brightness") {
		cfg.Brightness = serveBrightness
	}
	if serveSimOnly {
		cfg.Driver = "sim"
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("driver", cfg.Driver).
		Int("fps", cfg.FPS).
		Float64("brightness", cfg.Brightness).
		Str("http", cfg.Transports.HTTPAddr).
		Str("udp", cfg.Transports.UDPAddr).
		Str("pipe", cfg.Transports.PipePath).
		Msg("starting")
	return core.Run(ctx)
}
