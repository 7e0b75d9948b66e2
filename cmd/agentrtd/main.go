// Command agentrtd runs the tool-use agent runtime server: it loads
// configuration from the environment, wires the Key Pool, sandbox
// executors, tool registry/store, search engine, agent loop, and HTTP+WS
// surface together, and serves until interrupted. Generalized from the
// teacher's _teacher_ref/cobra_cli.go root command, stripped of its TUI
// chat loop and cobra flag surface since this binary is a long-running
// server configured entirely through the environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	alexerrors "alex/internal/errors"
	"alex/internal/agentloop"
	"alex/internal/auth"
	"alex/internal/config"
	"alex/internal/httpapi"
	"alex/internal/llmclient"
	"alex/internal/logging"
	"alex/internal/registry"
	"alex/internal/sandbox"
	"alex/internal/search"
	"alex/internal/toolstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrtd:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := logging.NewComponentLogger("agentrtd")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm, err := llmclient.New(ctx, llmclient.Config{
		Credentials: cfg.LLMAPIKeys,
		Model:       cfg.LLMModel,
		Retry:       alexerrors.DefaultRetryConfig(),
		Breaker:     alexerrors.DefaultCircuitBreakerConfig(),
		Logger:      logging.NewComponentLogger("llmclient"),
	})
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}

	authManager, err := auth.NewManager(cfg.JWTSecret, "agentrtd", cfg.AdminUsername, cfg.AdminPassword, cfg.AuthTokenTTL)
	if err != nil {
		return fmt.Errorf("init auth manager: %w", err)
	}

	executor := sandbox.NewFallbackExecutor(
		sandbox.NewContainerExecutor(sandbox.ContainerConfig{
			DockerBin: cfg.SandboxDockerBin,
			BaseImage: cfg.SandboxBaseImage,
			Logger:    logging.NewComponentLogger("sandbox.container"),
		}),
		sandbox.NewInProcessExecutor(logging.NewComponentLogger("sandbox.inprocess")),
		logging.NewComponentLogger("sandbox.fallback"),
	)

	store, err := toolstore.New(toolstore.Config{
		PersistPath: cfg.ToolStoreDBPath,
		Executor:    executor,
		Logger:      logging.NewComponentLogger("toolstore"),
	})
	if err != nil {
		return fmt.Errorf("init tool store: %w", err)
	}

	reg, err := registry.New(ctx, registry.Config{
		Source:   store,
		Executor: executor,
		Logger:   logging.NewComponentLogger("registry"),
	})
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	searchEngine := search.New(nil)
	rebuildSearchIndex(searchEngine, reg)

	loop, err := agentloop.New(agentloop.Config{
		LLM:             llm,
		Registry:        reg,
		Store:           store,
		Search:          searchEngine,
		MaxIterations:   cfg.MaxIterations,
		ToolGracePeriod: 5 * time.Second,
		Logger:          logging.NewComponentLogger("agentloop"),
	})
	if err != nil {
		return fmt.Errorf("init agent loop: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Loop:     loop,
		Registry: reg,
		Store:    store,
		Search:   searchEngine,
		Auth:     authManager,
		Logger:   logging.NewComponentLogger("httpapi"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// rebuildSearchIndex bridges Registry.List()'s value-typed []Tool to the
// []*Tool shape Engine.Build expects.
func rebuildSearchIndex(engine *search.Engine, reg *registry.Registry) {
	tools := reg.List()
	ptrs := make([]*registry.Tool, len(tools))
	for i := range tools {
		ptrs[i] = &tools[i]
	}
	engine.Build(ptrs)
}
