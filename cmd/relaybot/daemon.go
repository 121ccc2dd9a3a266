package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.relaybot.gateway"
	systemdUnit  = "relaybot.service"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the relaybot background service",
	}
	cmd.AddCommand(installDaemonCmd())
	cmd.AddCommand(uninstallDaemonCmd())
	return cmd
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install relaybot as a system daemon (launchd/systemd)",
		Long:  "Generates and installs a service file that runs 'relaybot serve' on system startup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(cmd.OutOrStdout(), home, execPath, cfgPath)
			case "linux":
				return installSystemd(cmd.OutOrStdout(), home, execPath, cfgPath)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relaybot system daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			var path string
			switch runtime.GOOS {
			case "darwin":
				path = launchdPath(home)
			case "linux":
				path = systemdPath(home)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

func launchdPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit)
}

func renderLaunchd(execPath, cfgPath, logDir string) string {
	return strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LABEL}}", launchdLabel,
		"{{LOG}}", filepath.Join(logDir, "relaybot.log"),
		"{{ERR_LOG}}", filepath.Join(logDir, "relaybot-error.log"),
	).Replace(launchdTemplate)
}

func renderSystemd(execPath, cfgPath string) string {
	return strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
	).Replace(systemdTemplate)
}

func installLaunchd(w io.Writer, home, execPath, cfgPath string) error {
	logDir := filepath.Join(home, ".relaybot", "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	plistPath := launchdPath(home)
	if err := writeServiceFile(plistPath, renderLaunchd(execPath, cfgPath, logDir)); err != nil {
		return err
	}

	fmt.Fprintf(w, "Daemon installed: %s\n", plistPath)
	fmt.Fprintf(w, "To start: launchctl load %s\n", plistPath)
	fmt.Fprintf(w, "To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func installSystemd(w io.Writer, home, execPath, cfgPath string) error {
	unitPath := systemdPath(home)
	if err := writeServiceFile(unitPath, renderSystemd(execPath, cfgPath)); err != nil {
		return err
	}

	fmt.Fprintf(w, "Daemon installed: %s\n", unitPath)
	fmt.Fprintf(w, "To start:  systemctl --user start relaybot\n")
	fmt.Fprintf(w, "To enable: systemctl --user enable relaybot\n")
	fmt.Fprintf(w, "To stop:   systemctl --user stop relaybot\n")
	return nil
}

func writeServiceFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=relaybot chat completion relay
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
