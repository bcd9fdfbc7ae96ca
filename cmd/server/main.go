package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/olgkv/llm-telegram-bot/internal/api"
	"github.com/olgkv/llm-telegram-bot/internal/config"
	"github.com/olgkv/llm-telegram-bot/internal/core"
	"github.com/olgkv/llm-telegram-bot/internal/llm"
	"github.com/olgkv/llm-telegram-bot/internal/store"
	"github.com/olgkv/llm-telegram-bot/internal/tokenizer"
)

// app holds everything both commands need.
type app struct {
	cfg       config.Config
	dbStore   *store.SQLiteStore
	providers *llm.Providers
	ingest    *core.IngestService
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Debug("service starting in debug mode")

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	providers, err := llm.NewProviders(ctx, cfg)
	if err != nil {
		dbStore.Close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	ingest := core.NewIngestService(dbStore, providers.Embedder, core.IngestOptions{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		EmbeddingDim: providers.EmbeddingDim,
		Workers:      cfg.IngestWorkers,
		EmbedRate:    cfg.EmbedRate,
	})

	return &app{cfg: cfg, dbStore: dbStore, providers: providers, ingest: ingest}, nil
}

func (a *app) Close() {
	a.providers.Close()
	if err := a.dbStore.Close(); err != nil {
		slog.Error("closing database", "err", err)
	}
}

func serve(ctx context.Context, a *app) error {
	encoding := a.cfg.Tokenizer
	if encoding == tokenizer.EncodingAuto {
		encoding = tokenizer.EncodingForModel(llm.ChatModel(a.cfg))
	}
	slog.Info("token counting", "encoding", encoding)
	counter, err := tokenizer.New(encoding)
	if err != nil {
		return fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	var queryEmbedder llm.Embedder
	if a.providers.Embedder != nil {
		cached, err := llm.NewCachedEmbedder(a.providers.Embedder, a.cfg.EmbedCacheEntries)
		if err != nil {
			return err
		}
		defer cached.Close()
		queryEmbedder = cached
	}

	guard := core.NewTokenGuard(counter, a.dbStore, a.cfg.MaxMessageTokens, a.cfg.MaxDailyTokens)
	history := core.NewHistoryService(a.dbStore, guard, a.cfg.HistoryLimit)
	retriever := core.NewRetriever(a.dbStore, queryEmbedder, a.cfg.RetrievalK)
	chatService := core.NewChatService(history, retriever, a.providers.Generator, core.NewDispatcher(a.cfg.Workers), core.ChatOptions{
		SystemPrompt:  a.cfg.SystemPrompt,
		HistoryWindow: a.cfg.HistoryWindow,
	})

	router := api.NewRouter(api.NewAPIHandler(chatService, a.ingest, retriever))
	serverAddr := fmt.Sprintf(":%s", a.cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // generation retries can take a while
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server, press Ctrl+C to quit", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exiting gracefully")
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Conversational memory and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "ingest <file> [title]",
		Short: "Ingest a text or markdown file into the knowledge base and exit",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			title := ""
			if len(args) > 1 {
				title = args[1]
			}
			res, err := a.ingest.IngestFile(cmd.Context(), args[0], title)
			if err != nil {
				return fmt.Errorf("data ingestion failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested document id=%d, title=%s, chunks=%d/%d\n",
				res.Document.ID, res.Document.Title, res.Saved, res.RawChunks)
			return nil
		},
	})

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "err", err)
		stop()
		os.Exit(1)
	}
}
