package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talbashan.ai/assistant/internal/api"
	"talbashan.ai/assistant/internal/config"
	"talbashan.ai/assistant/internal/core"
	"talbashan.ai/assistant/internal/logger"
	"talbashan.ai/assistant/internal/memory"
	"talbashan.ai/assistant/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", "error", err)
	}

	ingestFlag := flag.Bool("ingest", false, "Ingest lesson markdown files and exit")
	flag.Parse()

	dbStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	ctx := context.Background()
	llmService, err := core.NewLLMService(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", "error", err)
	}
	defer llmService.Close()

	indexer := core.NewIndexer(llmService, dbStore)

	if *ingestFlag {
		logger.Info("starting lesson ingestion", "dir", cfg.LessonsDir)
		report, err := core.IngestMarkdownDir(ctx, cfg.LessonsDir, indexer)
		if err != nil {
			logger.Fatal("ingestion failed", "error", err)
		}
		logger.Info("ingestion complete", "indexed", report.Indexed, "errors", report.Errors, "total", report.Total)
		os.Exit(0)
	}

	if count, err := dbStore.CountChunks(); err == nil && count == 0 {
		logger.Warn("knowledge base is empty; run with -ingest to index lesson files")
	}

	retriever := core.NewRetriever(llmService, dbStore)
	reranker := core.NewReranker(llmService)
	synthesizer := core.NewSynthesizer(llmService)
	queryService := core.NewQueryService(retriever, reranker, synthesizer)

	extractor := memory.NewExtractor(llmService)
	memoryService := core.NewMemoryService(dbStore, extractor)
	chatService := core.NewChatService(dbStore, retriever, reranker, synthesizer, llmService, memoryService, cfg.RetrieveTopK, cfg.RerankTopN)

	handler := api.NewAPIHandler(queryService, indexer, memoryService, chatService, []byte(cfg.JWTSecret))
	router := api.NewRouter(handler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // reranking fans out several model calls
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "addr", serverAddr, "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", "error", err)
	}

	logger.Info("server exited gracefully")
}
