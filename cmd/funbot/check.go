package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"funbot/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config and print a summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cats := make([]string, 0, len(cfg.Content.Providers))
		for c := range cfg.Content.Providers {
			cats = append(cats, c)
		}
		sort.Strings(cats)

		fmt.Printf("config %s ok\n", configFile)
		fmt.Printf("  telegram token set: %t, owners: %d\n", strings.TrimSpace(cfg.Telegram.Token) != "", len(cfg.Telegram.OwnerUserIDs))
		for _, c := range cats {
			fmt.Printf("  provider %-14s %d source(s)\n", c, len(cfg.Content.Providers[c]))
		}
		db := cfg.Content.Local.DBPath
		if _, err := os.Stat(db); err != nil {
			fmt.Printf("  local store %s: missing, local categories fall back to providers\n", db)
		} else {
			fmt.Printf("  local store %s: %s\n", db, strings.Join(cfg.Content.Local.Categories, ", "))
		}
		fmt.Printf("  scheduler enabled: %t\n", cfg.Scheduler.IsEnabled())
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is empty (set it or %s)", config.EnvTelegramToken)
		}
		return nil
	},
}
