package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/siteinspect/apiserver/config"
	"github.com/siteinspect/apiserver/internal/logger"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Site inspection backend",
	Long: `Backend for site inspection jobs, reports and their images.

	inspect server
	inspect migrate up
	inspect user create-root --email root@example.com
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadLogger reads the configuration and builds the logger shared by every
// command. Callers close the returned closer when done.
func loadLogger() (config.Config, zerolog.Logger, func(), error) {
	cfg := config.LoadConfig()
	log, closer, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		return cfg, zerolog.Nop(), nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, func() { _ = closer.Close() }, nil
}
