// Command funbot runs the content bot and its operator tools.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"funbot/internal/config"
)

var (
	// configFile is set by the --config flag.
	configFile string
	// envFile is loaded before the config so FUNBOT_* overrides apply.
	envFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "funbot",
	Short:         "funbot serves random content to chats",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config.json", "path to config json or yaml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load (missing is fine)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

// loadEnv never overrides variables already set in the environment.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewManager(configFile).Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
