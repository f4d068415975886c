// Command roomctl is the operator CLI for a running roombot service.
//
// Usage:
//
//	roomctl send <room> <text>        post a literal message through the bot
//	roomctl job run <name>            run a scheduled job now
//	roomctl ranking <room>            print today's ranking of a room
//	roomctl log <room> [--limit N]    print the newest logged messages
//	roomctl migrate up|down|version   manage the Postgres schema directly
//
// The HTTP commands authenticate with ADMIN_TOKEN, or ADMIN_USERNAME and
// ADMIN_PASSWORD, the same credentials the service is configured with.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "roomctl",
	Short:         "Operate a running roombot service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("addr", envOr("ROOMBOT_ADDR", "http://localhost:8080"), "base URL of the service")
	rootCmd.PersistentFlags().String("token", os.Getenv("ADMIN_TOKEN"), "operator token (X-Admin-Token)")
	rootCmd.PersistentFlags().Bool("verbose", false, "log requests to stderr")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomctl: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
