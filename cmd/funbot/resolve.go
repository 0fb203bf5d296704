package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"funbot/internal/app"
	"funbot/internal/content"
	logx "funbot/pkg/logx"
)

var (
	resolveOut  string
	resolveJSON bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <category> [key=value...]",
	Short: "Resolve one piece of content and print it",
	Long: `Resolve runs the same fallback chain the bot uses and prints the result.

Example:
  funbot resolve hitokoto
  funbot resolve cp n1=alice n2=bob --out cp.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveOut, "out", "", "write image or audio bytes to this file")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print the result as json")
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	log := logx.NewConsole(cfg.Logging.Level)
	c, err := app.OpenContent(cfg, nil, log)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Resolver.Resolve(cmd.Context(), args[0], params)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}
	return printResult(res)
}

func parseParams(kvs []string) (url.Values, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := url.Values{}
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", kv)
		}
		out.Add(strings.TrimSpace(k), v)
	}
	return out, nil
}

func printResult(res content.Result) error {
	if len(res.Data) > 0 && resolveOut != "" {
		if err := os.WriteFile(resolveOut, res.Data, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s: wrote %d bytes to %s\n", res.Kind, len(res.Data), resolveOut)
		return nil
	}
	if resolveJSON {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Println(string(b))
		return nil
	}
	if len(res.Data) > 0 {
		fmt.Printf("%s: %d bytes (use --out to save)\n", res.Kind, len(res.Data))
		return nil
	}
	fmt.Println(res.Render())
	return nil
}
