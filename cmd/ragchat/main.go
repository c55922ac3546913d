package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cloo-solutions/ragchat/internal/cli"
	"github.com/cloo-solutions/ragchat/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ragchat",
		Short: "ragchat CLI - chat with your product knowledge base",
		Long: `ragchat CLI asks questions against a ragchat server. Answers are grounded in
the indexed documents and cite their sources.

Environment variables:
  RAGCHAT_API_URL   API base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.ChatCmd())
	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.ConfigCmd())

	if handled, err := cli.HandleHelpJSON(rootCmd, os.Args[1:], os.Stdout); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
