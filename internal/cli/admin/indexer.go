package admin

import (
	"fmt"
	"io"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/service"
	"github.com/spf13/cobra"
)

func IndexerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Inspect and control the indexer",
		Long:  "Run, reset and inspect the indexer that populates the search index",
	}

	cmd.PersistentFlags().String("name", "", "Indexer name (default: derived from AZURE_SEARCH_INDEX_NAME)")
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format (text or json)")

	cmd.AddCommand(indexerRunCmd())
	cmd.AddCommand(indexerResetCmd())
	cmd.AddCommand(indexerStatusCmd())
	cmd.AddCommand(indexerWaitCmd())

	return cmd
}

// withIndexer loads the environment, builds the stack and resolves the
// indexer name before calling fn.
func withIndexer(cmd *cobra.Command, fn func(st *stack, name string) error) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.shutdown()

	st, err := newStack(cmd.Context(), e.cfg, e.logger, stackOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = e.cfg.IndexerName()
	}
	return fn(st, name)
}

func indexerRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trigger an indexer run",
		Long:  "Trigger an indexer run. A run already in progress is left alone.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withIndexer(cmd, func(st *stack, name string) error {
				triggered, _, err := st.provisioner().TriggerRun(cmd.Context(), name)
				if err != nil {
					return err
				}
				if outputFormat(cmd) == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"indexer": name, "triggered": triggered})
				}
				if triggered {
					fmt.Fprintf(cmd.OutOrStdout(), "Indexer %s run triggered\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Indexer %s is already running\n", name)
				}
				return nil
			})
		},
	}
}

func indexerResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the indexer change tracking",
		Long:  "Reset the indexer so the next run reprocesses every document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withIndexer(cmd, func(st *stack, name string) error {
				if err := st.provisioner().ResetIndexer(cmd.Context(), name); err != nil {
					return err
				}
				if outputFormat(cmd) == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"indexer": name, "reset": true})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexer %s reset\n", name)
				return nil
			})
		},
	}
}

func indexerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the indexer status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withIndexer(cmd, func(st *stack, name string) error {
				status, err := st.provisioner().IndexerStatus(cmd.Context(), name)
				if err != nil {
					return err
				}
				if status.Name == "" {
					status.Name = name
				}
				if outputFormat(cmd) == "json" {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				printIndexerStatus(cmd.OutOrStdout(), name, status.Status, status.LastResult)
				return nil
			})
		},
	}
}

func indexerWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the current indexer run to finish",
		Long: `Poll the indexer until its last run succeeds or fails. A failed run exits
with an error and is not re-triggered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			interval, _ := cmd.Flags().GetDuration("poll-interval")
			return withIndexer(cmd, func(st *stack, name string) error {
				status, err := waitWithWorker(cmd.Context(), st, st.provisioner(), name, service.RunBaseline{}, timeout, interval)
				if err != nil {
					return err
				}
				if outputFormat(cmd) == "json" {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				printIndexerStatus(cmd.OutOrStdout(), name, status.Status, status.LastResult)
				return nil
			})
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Minute, "Maximum time to wait")
	cmd.Flags().Duration("poll-interval", 5*time.Second, "Status poll interval")
	return cmd
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}

func printIndexerStatus(w io.Writer, name, status string, last *domain.IndexerExecutionResult) {
	fmt.Fprintf(w, "Indexer: %s (%s)\n", name, status)
	if last == nil {
		fmt.Fprintln(w, "No runs yet")
		return
	}
	fmt.Fprintf(w, "Last run: %s\n", last.Status)
	if last.StartTime != nil {
		fmt.Fprintf(w, "  started:   %s\n", last.StartTime.Format("2006-01-02 15:04:05"))
	}
	if last.EndTime != nil {
		fmt.Fprintf(w, "  finished:  %s\n", last.EndTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "  processed: %d\n", last.ItemsProcessed)
	fmt.Fprintf(w, "  failed:    %d\n", last.ItemsFailed)
	if last.ErrorMessage != "" {
		fmt.Fprintf(w, "  error:     %s\n", last.ErrorMessage)
	}
}
