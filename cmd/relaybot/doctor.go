package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/locale"
	"relaybot/internal/logging"
	"relaybot/internal/usage"

	"github.com/spf13/cobra"
)

const doctorTimeout = 15 * time.Second

func doctorCmd() *cobra.Command {
	var skipProvider bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, credentials, usage ledger and
listening ports are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()
			return runDoctor(ctx, cmd.OutOrStdout(), resolveConfigPath(), !skipProvider)
		},
	}
	cmd.Flags().BoolVar(&skipProvider, "offline", false, "skip the provider health check")
	return cmd
}

type doctorReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func runDoctor(ctx context.Context, w io.Writer, cfgPath string, checkProvider bool) error {
	r := &doctorReport{out: w}
	fmt.Fprintf(w, "relaybot doctor v%s\n", version)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	cfg, fromFile, err := config.Resolve(cfgPath, envFile)
	if err != nil {
		r.fail("Config", err.Error())
		return r.summary()
	}
	if fromFile {
		r.pass("Config", cfgPath)
	} else {
		r.warn("Config", fmt.Sprintf("no file at %s, using defaults and environment", cfgPath))
	}

	switch _, err := locale.Open(cfg.General.LocaleFile, cfg.General.Locale); {
	case err != nil && cfg.General.LocaleFile == "":
		r.fail("Locale", fmt.Sprintf("%v (available: %s)", err, strings.Join(locale.Languages(), ", ")))
	case err != nil:
		r.fail("Locale", fmt.Sprintf("%s: %v", cfg.General.LocaleFile, err))
	case cfg.General.LocaleFile != "":
		r.pass("Locale", cfg.General.Locale+" from "+cfg.General.LocaleFile)
	default:
		r.pass("Locale", cfg.General.Locale)
	}

	ic := cfg.Inference
	switch {
	case ic.APIKey == "":
		r.fail("API key", "not set (inference.apiKey or "+config.EnvAPIKey+")")
	default:
		r.pass("API key", "set")
	}
	if ic.Provider == config.ProviderAzure {
		if ic.Endpoint == "" {
			r.fail("Endpoint", "not set (inference.endpoint or "+config.EnvEndpoint+")")
		} else {
			r.pass("Endpoint", ic.Endpoint)
		}
		if ic.Deployment == "" {
			r.warn("Deployment", "not set, requests are routed by model name")
		} else {
			r.pass("Deployment", ic.Deployment)
		}
	}
	r.pass("Model", ic.Model)

	bf := cfg.Channels.BotFramework
	if bf.Enabled && (bf.AppID == "" || bf.AppPassword == "") {
		r.warn("Bot credentials", "app id or password missing; replies only work against the local emulator")
	}

	if cfg.Usage.Enabled {
		if err := checkLedger(ctx, cfg.Usage.DBPath); err != nil {
			r.fail("Usage ledger", err.Error())
		} else {
			r.pass("Usage ledger", cfg.Usage.DBPath)
		}
	}

	for _, p := range listeningPorts(cfg) {
		if err := checkPort(p.port); err != nil {
			r.warn(p.name+" port", fmt.Sprintf("port %d may be in use: %v", p.port, err))
		} else {
			r.pass(p.name+" port", fmt.Sprintf(":%d available", p.port))
		}
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}

	if checkProvider && r.failed == 0 {
		logger, closer, err := logging.New(config.GeneralConfig{LogLevel: "error"})
		if err == nil {
			defer closer.Close()
			if err := newFactory(cfg, logger).Check(ctx); err != nil {
				r.fail("Provider", err.Error())
			} else {
				r.pass("Provider", ic.Provider+" reachable")
			}
		}
	}

	return r.summary()
}

func (r *doctorReport) summary() error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(r.out, "\nPlease fix the failed checks before running relaybot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(r.out, "\nrelaybot should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(r.out, "\nAll checks passed! relaybot is ready to run.\n")
	}
	return nil
}

type namedPort struct {
	name string
	port int
}

func listeningPorts(cfg *config.Config) []namedPort {
	var ports []namedPort
	c := cfg.Channels
	if c.BotFramework.Enabled {
		ports = append(ports, namedPort{"Bot Framework", c.BotFramework.Port})
	}
	if c.WebSocket.Enabled {
		ports = append(ports, namedPort{"WebSocket", c.WebSocket.Port})
	}
	if c.Webhook.Enabled {
		ports = append(ports, namedPort{"Webhook", c.Webhook.Port})
	}
	if cfg.Metrics.Enabled {
		ports = append(ports, namedPort{"Metrics", cfg.Metrics.Port})
	}
	return ports
}

// checkLedger opens the ledger, which also applies pending migrations, and
// runs one read.
func checkLedger(ctx context.Context, dbPath string) error {
	logger, closer, err := logging.New(config.GeneralConfig{LogLevel: "error"})
	if err != nil {
		return err
	}
	defer closer.Close()

	ledger, err := usage.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if _, err := ledger.Totals(ctx, ""); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}
