package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"relaybot/internal/config"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, webhook secrets, channels,
and completion backends are correctly set up. Reports pass/fail for
each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("relaybot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config resolves (file or env-only)
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (env-only mode)", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed+1)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 2. Webhook secrets
			if cfg.Webhook.VerifyToken == "" {
				printFail("Verify token", "not set; GET handshake will always fail")
				failed++
			} else {
				printPass("Verify token", "set")
				passed++
			}
			if cfg.Webhook.AppSecret == "" {
				printWarn("App secret", "not set; signature validation disabled")
				warned++
			} else {
				printPass("App secret", "signature validation enabled")
				passed++
			}

			// 3. Channels
			channelCount := 0
			if cfg.Channels.Messenger.Enabled {
				channelCount++
				if cfg.Channels.Messenger.AccessToken == "" {
					printFail("Channel: messenger", "enabled but no access token")
					failed++
				} else {
					printPass("Channel: messenger", "configured")
					passed++
				}
			}
			if cfg.Channels.WhatsApp.Enabled {
				channelCount++
				if cfg.Channels.WhatsApp.AccessToken == "" {
					printFail("Channel: whatsapp", "enabled but no access token")
					failed++
				} else {
					printPass("Channel: whatsapp", "configured")
					passed++
				}
			}
			if channelCount == 0 {
				printFail("Channels", "no channel enabled")
				failed++
			}

			// 4. Completion backends reachable
			completer, err := buildCompleter(cfg)
			if err != nil {
				printFail("Backends", err.Error())
				failed++
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := completer.Healthy(ctx); err != nil {
					printWarn("Backend: "+completer.Name(), err.Error())
					warned++
				} else {
					printPass("Backend: "+completer.Name(), "reachable")
					passed++
				}
				cancel()
			}

			// 5. Voice replies
			if cfg.Voice.Enabled {
				dir := config.ExpandPath(cfg.Voice.Dir)
				if err := os.MkdirAll(dir, 0o755); err != nil {
					printFail("Voice", fmt.Sprintf("audio dir not writable: %v", err))
					failed++
				} else {
					printPass("Voice", fmt.Sprintf("model %s, artifacts in %s", cfg.Voice.Model, dir))
					passed++
				}
			}

			// 6. Webhook port
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 7. Operator alerts
			if cfg.Notify.Telegram.Enabled {
				if _, err := buildNotifier(cfg); err != nil {
					printWarn("Alerts: telegram", err.Error())
					warned++
				} else {
					printPass("Alerts: telegram", fmt.Sprintf("chat %d", cfg.Notify.Telegram.ChatID))
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running relaybot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nrelaybot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! relaybot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
