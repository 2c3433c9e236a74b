package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/goalboard/internal/adapters/http/client"
	"github.com/okian/goalboard/internal/config"
	"github.com/okian/goalboard/pkg/logger"
)

const envConfigFile = "GOALBOARD_CONFIG"

// cli carries state shared by every subcommand once the root pre-run has
// loaded configuration.
type cli struct {
	cfg *config.Config
	log logger.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "goalboard",
		Short:        "Goal dashboard sync client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().String("api-url", "", "Goal service base URL (overrides config)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newRunCommand(c),
		newListCommand(c),
		newAddCommand(c),
		newDeleteCommand(c),
		newUpdateCommand(c),
		newFakeServerCommand(c),
	)
	return root
}

// init loads configuration (defaults -> .env -> file -> env -> flags) and
// sets up logging on stderr so command output stays clean.
func (c *cli) init(cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv(envConfigFile, path); err != nil {
			return fmt.Errorf("set config path: %w", err)
		}
	}

	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	if u, _ := cmd.Flags().GetString("api-url"); u != "" {
		cfg.APIBaseURL = u
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	c.log = logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		c.log.Warn(cmd.Context(), "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	c.cfg = cfg
	return nil
}

func (c *cli) client() *client.Client {
	return client.New(c.cfg.APIBaseURL,
		client.WithTimeout(c.cfg.RequestTimeout()),
		client.WithLogger(c.log.Named("client")),
	)
}
