package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"hls-gateway/internal/platform/config"
)

type commandContext struct {
	configFlag *string

	settingsOnce sync.Once
	settings     config.Settings
	settingsErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureSettings resolves settings once per invocation: .env, then the TOML
// file named by --config or CONFIG_FILE, then environment variables.
func (c *commandContext) ensureSettings() (config.Settings, error) {
	c.settingsOnce.Do(func() {
		_ = config.Load()

		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			path = config.GetEnv("CONFIG_FILE", "")
		}
		c.settings, c.settingsErr = config.Resolve(path)
	})
	return c.settings, c.settingsErr
}

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "HLS stream gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureSettings()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSourcesCommand(ctx))

	return rootCmd
}
