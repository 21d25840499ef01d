package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/havenline/haven/backend/internal/config"
	"github.com/havenline/haven/backend/internal/handler"
	"github.com/havenline/haven/backend/internal/model/resource"
	"github.com/havenline/haven/backend/internal/service/ai"
	crisisservice "github.com/havenline/haven/backend/internal/service/crisis"
	"github.com/havenline/haven/backend/internal/service/orchestrator"
	"github.com/havenline/haven/backend/internal/service/session"
	"github.com/havenline/haven/backend/internal/storage"
	"github.com/havenline/haven/backend/internal/storage/badgerdb"
	"github.com/havenline/haven/backend/internal/storage/memory"
	wshub "github.com/havenline/haven/backend/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	docs, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open document store: %v", err)
	}
	defer func() {
		if err := docs.Close(); err != nil {
			log.Printf("warning: failed to close document store: %v", err)
		}
	}()

	resources := resource.NewMemoryStore(resource.Seed())
	sessions := session.NewService(docs, cfg.Chat.DefaultLocale)
	crisisMgr := crisisservice.NewManager(docs, resources, crisisservice.LogNotifier{})

	// The AI collaborator is optional: without credentials every reply
	// uses the locale fallback, and crisis handling is unaffected.
	var generator ai.Generator
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing with fallback replies only")
		} else {
			generator = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("ark credentials not configured, replies fall back to static strings")
	}

	orch := orchestrator.New(sessions, generator, crisisMgr, cfg.Chat.MaxMessageLen)
	hub := wshub.NewHub()

	router := handler.NewRouter(sessions, orch, crisisMgr, resources, hub)

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Path == "" {
		log.Println("STORAGE_PATH not set, using in-memory document store")
		return memory.NewStore(), nil
	}
	log.Printf("opening badger document store at %s", cfg.Path)
	return badgerdb.Open(cfg.Path)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Haven backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
