package main

import (
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-video-backend/internal/config"
	"github.com/tbourn/go-video-backend/internal/sysutil"
)

// commandContext lazily loads configuration shared by every subcommand.
type commandContext struct {
	envFile *string
	cfg     *config.Config
}

func newCommandContext(envFile *string) *commandContext {
	return &commandContext{envFile: envFile}
}

// ensureConfig loads the env file (optional unless named explicitly), then
// the environment, and installs the global logger.
func (c *commandContext) ensureConfig() (config.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	path := ".env"
	explicit := c.envFile != nil && *c.envFile != ""
	if explicit {
		path = *c.envFile
	}
	if err := godotenv.Load(path); err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		return config.Config{}, errors.Wrapf(err, "load %s", path)
	}

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	c.cfg = &cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var envFile string
	ctx := newCommandContext(&envFile)

	rootCmd := &cobra.Command{
		Use:           "videod",
		Short:         "Personalized video request service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newRedispatchCommand(ctx))

	return rootCmd
}
