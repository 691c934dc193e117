package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"darkhold/internal/auth"
	"darkhold/internal/chat"
	"darkhold/internal/history"
	"darkhold/internal/storage"
)

var (
	sessionFlag  string
	jsonFlag     bool
	dateFlag     string
	userFlag     int64
	usernameFlag string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions with a persisted conversation",
	RunE: withStore(func(cmd *cobra.Command, kv storage.Store) error {
		sessions, err := history.Sessions(kv)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	}),
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a session's conversation and greeting flag",
	RunE: withStore(func(cmd *cobra.Command, kv storage.Store) error {
		if err := history.NewStore(kv, sessionFlag).Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared session %s\n", sessionFlag)
		return nil
	}),
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Print a session's conversation",
	RunE: withStore(func(cmd *cobra.Command, kv storage.Store) error {
		msgs, err := history.NewStore(kv, sessionFlag).Load()
		if err != nil {
			return err
		}
		if jsonFlag {
			return writeJSON(cmd.OutOrStdout(), msgs)
		}
		writeTranscript(cmd.OutOrStdout(), msgs)
		return nil
	}),
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print activity statistics for one UTC day",
	RunE: withStore(func(cmd *cobra.Command, kv storage.Store) error {
		day := time.Now().UTC()
		if dateFlag != "" {
			var err error
			day, err = time.Parse("2006-01-02", dateFlag)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
		}
		stats, err := dailyReport(kv, day)
		if err != nil {
			return err
		}
		if jsonFlag {
			out, err := stats.ToJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), stats.GenerateReportSummary())
		return nil
	}),
}

var allowlistCmd = &cobra.Command{
	Use:   "allowlist",
	Short: "List users persisted in the allowlist",
	RunE: withStore(func(cmd *cobra.Command, kv storage.Store) error {
		svc, err := auth.New(kv, nil)
		if err != nil {
			return err
		}
		for _, u := range svc.List() {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t@%s\n", u.ID, u.Username)
		}
		return nil
	}),
}

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Add a Telegram user to the allowlist",
	RunE: withStore(func(cmd *cobra.Command, kv storage.Store) error {
		svc, err := auth.New(kv, nil)
		if err != nil {
			return err
		}
		return svc.Upsert(auth.User{ID: userFlag, Username: usernameFlag})
	}),
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Remove a Telegram user from the allowlist",
	RunE: withStore(func(cmd *cobra.Command, kv storage.Store) error {
		svc, err := auth.New(kv, nil)
		if err != nil {
			return err
		}
		return svc.Remove(userFlag)
	}),
}

func init() {
	for _, c := range []*cobra.Command{clearCmd, transcriptCmd} {
		c.Flags().StringVar(&sessionFlag, "session", "", "session id (the Telegram chat id)")
		_ = c.MarkFlagRequired("session")
	}
	transcriptCmd.Flags().BoolVar(&jsonFlag, "json", false, "print the stored JSON")
	reportCmd.Flags().BoolVar(&jsonFlag, "json", false, "print the stats as JSON")
	reportCmd.Flags().StringVar(&dateFlag, "date", "", "day to report, YYYY-MM-DD (default today)")

	for _, c := range []*cobra.Command{allowCmd, revokeCmd} {
		c.Flags().Int64Var(&userFlag, "user", 0, "Telegram user id")
		_ = c.MarkFlagRequired("user")
	}
	allowCmd.Flags().StringVar(&usernameFlag, "username", "", "Telegram username, for display")

	rootCmd.AddCommand(sessionsCmd, clearCmd, transcriptCmd, reportCmd, allowlistCmd, allowCmd, revokeCmd)
}

// withStore opens the configured storage around an admin command.
func withStore(run func(cmd *cobra.Command, kv storage.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		kv, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer kv.Close()
		return run(cmd, kv)
	}
}

func writeTranscript(w io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		who := "you"
		if m.From == chat.FromBot {
			who = "darkhold"
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.UTC().Format(time.DateTime), who, m.Text)
		if m.HasImage {
			fmt.Fprintf(w, "    image: %s\n", m.ImageURL)
		}
		for _, emoji := range chat.Reactions {
			if n := m.Reactions[emoji]; n > 0 {
				fmt.Fprintf(w, "    %s x%d\n", emoji, n)
			}
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
