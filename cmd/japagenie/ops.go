package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"japagenie/internal/channel"
	"japagenie/internal/feedback"
	"japagenie/internal/store"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show logged topic events and retry-chain totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := map[string]any{
				"visa_conversations_logged": feedback.NewLog(cfg.Feedback.LogPath).Count(),
				"feedback_log":              cfg.Feedback.LogPath,
			}
			if cfg.Journal.Enabled {
				journal, err := store.NewJournal(cfg.Journal.DBPath, logger)
				if err != nil {
					return fmt.Errorf("retry journal: %w", err)
				}
				defer journal.Close()
				counts, err := journal.Counts(cmd.Context())
				if err != nil {
					return err
				}
				out["retry_chains"] = counts
			}

			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func chainsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List recent retry chains from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("retry journal is disabled (journal.enabled=false)")
			}
			journal, err := store.NewJournal(cfg.Journal.DBPath, logger)
			if err != nil {
				return fmt.Errorf("retry journal: %w", err)
			}
			defer journal.Close()

			records, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no retry chains recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHANNEL\tDESTINATION\tSTATUS\tATTEMPTS\tSTARTED\tQUERY")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.Channel, r.Destination, r.Status, r.Attempts,
					r.StartedAt.Local().Format(time.DateTime), truncate(r.Query, 40))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of chains to show")
	return cmd
}

func setWebhookCmd() *cobra.Command {
	var info bool
	cmd := &cobra.Command{
		Use:   "set-webhook [url]",
		Short: "Register the Telegram webhook (default: <server.publicUrl>/api/webhook)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token := cfg.Channels.Telegram.Token
			if token == "" {
				return fmt.Errorf("channels.telegram.token is not set")
			}
			bot, err := newBot(token)
			if err != nil {
				return fmt.Errorf("telegram bot: %w", err)
			}

			if info {
				wh, err := bot.GetWebhookInfo()
				if err != nil {
					return fmt.Errorf("get webhook info: %w", err)
				}
				data, _ := json.MarshalIndent(wh, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			url := ""
			if len(args) == 1 {
				url = args[0]
			} else if cfg.Server.PublicURL != "" {
				url = strings.TrimRight(cfg.Server.PublicURL, "/") + "/api/webhook"
			}
			if url == "" {
				return fmt.Errorf("no webhook url: pass one or set server.publicUrl")
			}

			tg := channel.NewTelegram(channel.TelegramConfig{Bot: bot, Logger: logger})
			if err := tg.SetWebhook(url); err != nil {
				return err
			}
			logger.Info("webhook set", "url", url, "bot", bot.Self.UserName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&info, "info", false, "show the current webhook instead of setting it")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

