package admin

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cloo-solutions/ragchat/internal/assets"
	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ProvisionCmd returns the provision command
func ProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Upload documents and apply the search assets",
		Long: `Provision the knowledge store.

Uploads the documents under --source-dir to the storage container, creates or
updates the index, data source, skillset and indexer, then triggers an
indexer run. Re-running with unchanged input leaves the same assets in place.`,
		Example: `  ragchatd provision --source-dir ./data
  ragchatd provision --skip-run
  ragchatd provision --source-dir ./data --wait --output json`,
		RunE: runProvision,
	}

	cmd.Flags().String("source-dir", "", "Directory of documents to upload (empty skips the upload)")
	cmd.Flags().Bool("skip-run", false, "Apply the definitions without triggering the indexer")
	cmd.Flags().Bool("wait", false, "Wait for the indexer run to finish")
	cmd.Flags().Duration("wait-timeout", 30*time.Minute, "Maximum time to wait for the indexer run")
	cmd.Flags().Duration("poll-interval", 5*time.Second, "Indexer status poll interval")
	cmd.Flags().Bool("no-migrate", false, "Skip database migrations")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

type provisionOutput struct {
	*service.ProvisionReport
	Status *domain.IndexerStatus `json:"indexer_status,omitempty"`
}

func runProvision(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	sourceDir, _ := cmd.Flags().GetString("source-dir")
	skipRun, _ := cmd.Flags().GetBool("skip-run")
	wait, _ := cmd.Flags().GetBool("wait")
	waitTimeout, _ := cmd.Flags().GetDuration("wait-timeout")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	outputFormat, _ := cmd.Flags().GetString("output")

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.shutdown()

	st, err := newStack(ctx, e.cfg, e.logger, stackOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := assets.Render(assets.ParamsFromConfig(e.cfg))
	if err != nil {
		return err
	}

	p := st.provisioner()
	report, err := p.Provision(ctx, service.ProvisionInput{
		SourceDir: sourceDir,
		Assets:    a,
		SkipRun:   skipRun,
	})
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	out := provisionOutput{ProvisionReport: report}
	if wait && !skipRun {
		out.Status, err = waitWithWorker(ctx, st, p, a.Indexer.Name, report.Since, waitTimeout, pollInterval)
		if err != nil {
			return err
		}
	}

	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printProvisionReport(cmd.OutOrStdout(), out)
	return nil
}

// waitWithWorker waits for the indexer to finish. Self-hosted backends have
// nobody else executing the queued run, so the indexer worker runs in this
// process while waiting.
func waitWithWorker(ctx context.Context, st *stack, p *service.Provisioner, indexer string, since service.RunBaseline, timeout, interval time.Duration) (*domain.IndexerStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if w := st.indexerWorker(); w != nil {
		workerCtx, stopWorker := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			w.Start(workerCtx)
		}()
		defer func() {
			stopWorker()
			<-done
		}()
	}

	st.logger.Info("waiting for indexer", zap.String("indexer", indexer), zap.Duration("timeout", timeout))
	status, err := p.WaitForIndexer(ctx, indexer, since, interval)
	if err != nil {
		return status, fmt.Errorf("waiting for indexer %s: %w", indexer, err)
	}
	return status, nil
}

func printProvisionReport(w io.Writer, out provisionOutput) {
	r := out.ProvisionReport
	fmt.Fprintf(w, "Index:       %s (%s)\n", r.Index, r.IndexAction)
	fmt.Fprintf(w, "Data source: %s\n", r.DataSource)
	if r.Skillset != "" {
		fmt.Fprintf(w, "Skillset:    %s\n", r.Skillset)
	}
	fmt.Fprintf(w, "Indexer:     %s\n", r.Indexer)
	fmt.Fprintf(w, "Uploaded:    %d document(s)\n", r.Uploaded)
	switch {
	case r.RunTriggered:
		fmt.Fprintln(w, "Indexer run triggered")
	case r.RunSkipped:
		fmt.Fprintln(w, "Indexer run already in progress, not triggered")
	}
	if out.Status != nil && out.Status.LastResult != nil {
		fmt.Fprintf(w, "Last run:    %s (%d processed, %d failed)\n",
			out.Status.LastResult.Status, out.Status.LastResult.ItemsProcessed, out.Status.LastResult.ItemsFailed)
	}
}
