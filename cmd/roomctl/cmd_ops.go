package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd, jobCmd, rankingCmd, logCmd)
	jobCmd.AddCommand(jobRunCmd)
	logCmd.Flags().Int("limit", 20, "number of messages (max 500)")
}

var sendCmd = &cobra.Command{
	Use:   "send <room> <text>",
	Short: "Post a message to a room as the bot",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newAPIClient(cmd).Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent message %s to room %s\n", id, args[0])
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Scheduled jobs",
}

var jobRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a scheduled job now (poll, greeting, ranking, weather, quake)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient(cmd).RunJob(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("job %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s finished\n", args[0])
		return nil
	},
}

var rankingCmd = &cobra.Command{
	Use:   "ranking <room>",
	Short: "Print today's message ranking of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rk, err := newAPIClient(cmd).Ranking(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("ranking: %w", err)
		}
		out := cmd.OutOrStdout()
		note := ""
		if rk.Approximate {
			note = " (approximate)"
		}
		fmt.Fprintf(out, "room %s, %s: %d messages%s\n", rk.Room, rk.Date, rk.Total, note)
		if len(rk.Entries) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tACCOUNT\tNAME\tCOUNT")
		for _, e := range rk.Entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", e.Rank, e.SenderID, e.SenderName, e.Count)
		}
		return w.Flush()
	},
}

var logCmd = &cobra.Command{
	Use:   "log <room>",
	Short: "Print the newest logged messages of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := newAPIClient(cmd).Log(cmd.Context(), args[0], limit)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tID\tSENDER\tBODY")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.SendTime.Local().Format(time.DateTime), r.MessageID, r.SenderName, oneLine(r.Body, 60))
		}
		return w.Flush()
	},
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
