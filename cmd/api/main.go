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

	"github.com/actionsync/backend/internal/config"
	"github.com/actionsync/backend/internal/handler"
	"github.com/actionsync/backend/internal/service/agent"
	"github.com/actionsync/backend/internal/service/connection"
	"github.com/actionsync/backend/internal/service/embedding"
	meetingservice "github.com/actionsync/backend/internal/service/meeting"
	"github.com/actionsync/backend/internal/service/processing"
	"github.com/actionsync/backend/internal/service/session"
	workservice "github.com/actionsync/backend/internal/service/work"
	"github.com/actionsync/backend/internal/store"
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

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	// Initialize the agent engine
	var engine agent.Engine
	if cfg.Agent.Enabled() {
		einoEngine, err := agent.NewEinoEngine(ctx, cfg.Agent)
		if err != nil {
			log.Fatalf("failed to initialize agent engine: %v", err)
		}
		engine = einoEngine
		log.Println("agent engine initialized successfully")
	} else {
		log.Fatal("agent credentials not configured; set ARK_API_KEY (or access/secret keys) and ARK_MODEL")
	}

	// Initialize embedding search; optional
	var embedClient embedding.Embedder
	if cfg.Embedding.Enabled() {
		embedClient = embedding.NewClient(cfg.Embedding.Endpoint, cfg.Embedding.APIKey, cfg.Embedding.Deployment)
		log.Println("embedding client initialized successfully")
	} else {
		log.Println("embedding credentials not configured, semantic search falls back to text matching")
	}
	index := embedding.NewService(st, embedClient)

	sessions := session.NewManager(cfg.Session.IdleTimeout, cfg.Session.ReapInterval)
	sessions.Start()
	defer sessions.Shutdown()

	conns := connection.NewManager()
	runner := processing.NewRunner(processing.NewGuard(), conns)

	meetings := meetingservice.NewProcessor(engine, st, index, sessions)
	work := workservice.NewProcessor(engine, st, cfg.Work)

	router := handler.NewRouter(st, runner, meetings, work, index, conns)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("ActionSync backend listening on %s", addr)
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
