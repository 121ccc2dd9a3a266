package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"relaybot/internal/config"
	"relaybot/internal/logging"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string // overridable via --config flag
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot: relay chat turns to a hosted completion model",
		Long: "relaybot forwards every message it receives to an Azure OpenAI (or OpenAI) chat completion\n" +
			"and posts the reply back to the same conversation. New members get a greeting.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(usageCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig runs the shared startup sequence and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, io.Closer, error) {
	cfgPath := resolveConfigPath()
	cfg, fromFile, err := config.Resolve(cfgPath, envFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.General)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logging: %w", err)
	}
	if !fromFile {
		logger.Debug("config file not found, using defaults", "path", cfgPath)
	}
	return cfg, logger, closer, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show model, deployment and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:     %s\n", resolveConfigPath())
			fmt.Fprintf(out, "provider:   %s\n", cfg.Inference.Provider)
			fmt.Fprintf(out, "model:      %s\n", cfg.Inference.Model)
			fmt.Fprintf(out, "deployment: %s\n", orNone(cfg.Inference.Deployment))
			fmt.Fprintf(out, "endpoint:   %s\n", orNone(cfg.Inference.Endpoint))

			if err := newFactory(cfg, logger).Check(cmd.Context()); err != nil {
				fmt.Fprintf(out, "healthy:    no (%v)\n", err)
				return nil
			}
			fmt.Fprintln(out, "healthy:    yes")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long:  "Show the effective configuration: file values with environment overrides and defaults applied.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. inference.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Resolve(resolveConfigPath(), envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Resolve(resolveConfigPath(), envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), config.Sanitize(cfg))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relaybot %s\n", version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
