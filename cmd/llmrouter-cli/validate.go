package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	llmrouter "github.com/ferro-labs/llm-router"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a router configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Config is valid")
			fmt.Fprintf(out, "  Refresh:   %s\n", cfg.Interval())
			fmt.Fprintf(out, "  Timeout:   %s\n", cfg.Timeout())
			fmt.Fprintf(out, "  Backends:  %d\n", len(cfg.Backends))
			for _, b := range cfg.Backends {
				var extras []string
				if b.Auth != nil {
					extras = append(extras, "auth="+string(b.Auth.Type))
				}
				if b.Tags {
					extras = append(extras, "tags")
				}
				fmt.Fprintf(out, "    - %s %s %s\n", b.Name, b.URL, strings.Join(extras, " "))
			}
			if rl := cfg.RequestLog; rl != nil {
				fmt.Fprintf(out, "  Request log: %s\n", rl.Driver)
			}
			return nil
		},
	}
}

func loadValidConfig(path string) (*llmrouter.Config, error) {
	cfg, err := llmrouter.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := llmrouter.ValidateConfig(*cfg); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	return cfg, nil
}
