package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloo-solutions/ragchat/internal/cli"
	"github.com/cloo-solutions/ragchat/internal/cli/admin"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "ragchatd",
		Short:   "ragchat daemon and admin CLI",
		Long:    "ragchat daemon for running the chat API server, provisioning the knowledge store and managing the indexer",
		Version: version,
	}

	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.ProvisionCmd())
	rootCmd.AddCommand(admin.IndexerCmd())
	rootCmd.AddCommand(admin.AssetsCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if handled, err := cli.HandleHelpJSON(rootCmd, os.Args[1:], os.Stdout); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
