package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"funbot/internal/app"
	"funbot/internal/storage"
	"funbot/internal/task/scheduler"
	"funbot/internal/toggle"
	logx "funbot/pkg/logx"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Print the persisted daily deliveries and disabled features",
	Args:  cobra.NoArgs,
	RunE:  runSchedules,
}

func runSchedules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	docs, err := app.OpenStorage(cfg, logx.Nop())
	if err != nil {
		return err
	}
	defer docs.Close()

	var sched map[string]map[string][]string
	if err := loadDoc(cmd, docs, scheduler.DocName, &sched); err != nil {
		return err
	}
	var toggles map[string]map[string]bool
	if err := loadDoc(cmd, docs, toggle.DocName, &toggles); err != nil {
		return err
	}

	fmt.Println("schedules:")
	if len(sched) == 0 {
		fmt.Println("  (none)")
	}
	for _, g := range sortedKeys(sched) {
		for _, c := range sortedKeys(sched[g]) {
			for _, at := range sched[g][c] {
				fmt.Printf("  %s %s %s\n", g, at, c)
			}
		}
	}

	fmt.Println("disabled features:")
	n := 0
	for _, g := range sortedKeys(toggles) {
		for _, c := range sortedKeys(toggles[g]) {
			if !toggles[g][c] {
				fmt.Printf("  %s %s\n", g, c)
				n++
			}
		}
	}
	if n == 0 {
		fmt.Println("  (none)")
	}
	return nil
}

// loadDoc decodes a stored document into v. A missing document leaves v
// untouched.
func loadDoc(cmd *cobra.Command, docs storage.DocStore, name string, v any) error {
	b, ok, err := docs.Load(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
