package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloo-solutions/ragchat/internal/api/handlers"
	"github.com/cloo-solutions/ragchat/internal/config"
	"github.com/cloo-solutions/ragchat/internal/jobs"
	"github.com/cloo-solutions/ragchat/internal/server"
	"github.com/cloo-solutions/ragchat/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		Long: `Start the chat API server on the specified port.

The server exposes chat sessions over HTTP. With a self-hosted search
backend (pgvector or elastic) it also runs the indexer worker.`,
		RunE: runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-indexer", false, "Do not run the indexer worker in this process")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.shutdown()
	cfg, logger := e.cfg, e.logger

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	noIndexer, _ := cmd.Flags().GetBool("no-indexer")

	st, err := newStack(ctx, cfg, logger, stackOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := buildSessions(cfg, st, logger)
	if err != nil {
		return err
	}

	var workers []*jobs.Worker
	workers = append(workers, jobs.NewWorker("session-reaper",
		jobs.NewSessionReaper(sessions, cfg.SessionIdleTTL, logger.Named("reaper")),
		cfg.SessionReapInterval, logger))
	if w := st.indexerWorker(); w != nil && !noIndexer {
		workers = append(workers, w)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *jobs.Worker) {
			defer wg.Done()
			w.Start(ctx)
		}(w)
	}

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:    handlers.NewChatHandler(sessions, logger.Named("chat")),
		IndexerHandler: handlers.NewIndexerHandler(st.provisioner()),
		Logger:         logger.Named("http"),
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port), zap.String("index", cfg.SearchIndexName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	stop()
	wg.Wait()

	logger.Info("server exited")
	return nil
}

// buildSessions assembles the retriever, composer and generator shared by
// every chat session.
func buildSessions(cfg *config.Config, st *stack, logger *zap.Logger) (*service.SessionManager, error) {
	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	var rewritePrompt string
	if cfg.QueryRewrite {
		rewritePrompt = prompts.SearchQuerySystemMessage
	}
	retriever := service.NewRetriever(st.search, st.openai, st.openai, service.RetrieverConfig{
		Index:         cfg.SearchIndexName,
		Backend:       cfg.SearchBackend,
		Timeout:       cfg.RetrievalTimeout,
		RewritePrompt: rewritePrompt,
	}, logger.Named("retriever"))

	composer := service.NewComposer(service.ComposerConfig{
		SystemMessage:      prompts.ChatResponseSystemMessage,
		NoGroundingMessage: prompts.NoGroundingMessage,
		MaxContextChars:    cfg.MaxContextChars,
		MaxHistoryTurns:    cfg.MaxHistoryTurns,
	})

	generator := service.NewGenerator(st.openai, service.GeneratorConfig{
		Timeout:     cfg.GenerationTimeout,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, logger.Named("generator"))

	return service.NewSessionManager(service.SessionDeps{
		Retriever: retriever,
		Composer:  composer,
		Generator: generator,
		TopK:      cfg.RetrievalTopK,
		Logger:    logger.Named("session"),
	}), nil
}
