package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

// cli carries state shared by every subcommand once the root has loaded
// configuration.
type cli struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   internal.DefaultAppName,
		Short: "A coffee-only assistant that routes questions to places, search and the model",
		Long: `CoffeeGPT answers coffee questions. Each message is rephrased with the
conversation so far, routed to one capability (place search, geocoding, place
details, web search or a plain answer) and rendered as display fragments.

Quick start:
  coffeegpt serve                       # HTTP API on :8080
  coffeegpt chat --lat 1.28 --lng 103.85 # terminal chat
  coffeegpt history export <id> --format markdown`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: ./config.yaml or the user config dir)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(c),
		newChatCmd(c),
		newHistoryCmd(c),
		newMigrateCmd(c),
	)
	return root
}

func (c *cli) load() error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Log.Level = "debug"
	}
	c.cfg = cfg

	// The global level gates output, so a reload also reaches loggers that
	// components already hold.
	zerolog.SetGlobalLevel(logging.ParseLevel(cfg.Log.Level))
	c.logger = logging.New(cfg.Log, os.Stderr).Level(zerolog.TraceLevel)

	config.Watch(func(next *config.Config) {
		level := logging.ParseLevel(next.Log.Level)
		if c.verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		c.logger.Info().Str("level", level.String()).Msg("config reloaded")
	})
	return nil
}
