package main

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"japagenie/internal/catalog"
	"japagenie/internal/config"
	"japagenie/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Japa Genie installation",
		Long: `Verifies that the configuration, catalog, journal database, credentials
and backend are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Japa Genie Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using environment template", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := config.LoadOrTemplate(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			if cat, err := catalog.Load(cfg.Catalog.Path); err != nil {
				printFail("Catalog", err.Error())
				failed++
			} else {
				src := "embedded"
				if cfg.Catalog.Path != "" {
					src = cfg.Catalog.Path
				}
				printPass("Catalog", fmt.Sprintf("%s v%s (%s, %d keywords)", cat.Bot.Name, cat.Bot.Version, src, len(cat.Topics.Vocabulary)))
				passed++
			}

			if cfg.Journal.Enabled {
				if j, err := store.NewJournal(cfg.Journal.DBPath, logger); err != nil {
					printFail("Journal", err.Error())
					failed++
				} else {
					j.Close()
					printPass("Journal", cfg.Journal.DBPath)
					passed++
				}
			}

			if cfg.Feedback.Enabled {
				if err := os.MkdirAll(filepath.Dir(cfg.Feedback.LogPath), 0o755); err != nil {
					printFail("Feedback log", fmt.Sprintf("cannot create directory: %v", err))
					failed++
				} else {
					printPass("Feedback log", cfg.Feedback.LogPath)
					passed++
				}
			}

			if tg := cfg.Channels.Telegram; tg.Enabled {
				switch {
				case tg.Token == "":
					printWarn("Telegram", "enabled but no token configured")
					warned++
				case tg.FeedbackChannel == "":
					printWarn("Telegram", "no feedbackChannel, topic alerts disabled")
					warned++
				default:
					printPass("Telegram", "token and feedback channel configured")
					passed++
				}
			}

			if wa := cfg.Channels.WhatsApp; wa.Enabled {
				if wa.AccountSID == "" || wa.AuthToken == "" {
					printWarn("WhatsApp", "enabled but Twilio credentials missing, replies disabled")
					warned++
				} else {
					printPass("WhatsApp", wa.Number)
					passed++
				}
			}

			if err := checkBackend(cfg.Orchestrator.URL); err != nil {
				printWarn("Orchestrator", err.Error())
				warned++
			} else {
				printPass("Orchestrator", cfg.Orchestrator.URL)
				passed++
			}

			if err := checkPort(cfg.Server.Addr()); err != nil {
				printWarn("Listen address", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				warned++
			} else {
				printPass("Listen address", cfg.Server.Addr()+" available")
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the gateway.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe gateway should start but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Run 'japagenie serve'.\n")
			}
			return nil
		},
	}
}

// checkBackend dials the orchestrator's host to confirm it is reachable.
func checkBackend(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid url %q", raw)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 5*time.Second)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	conn.Close()
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
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
