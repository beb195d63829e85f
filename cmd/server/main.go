package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/ai"
	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/auth"
	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/exec"
	router "github.com/Swaymbhu-git/SlateAssist/internal/adapters/http"
	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/signal"
	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/storage"
	"github.com/Swaymbhu-git/SlateAssist/internal/app"
	"github.com/Swaymbhu-git/SlateAssist/internal/config"
)

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	tokens := auth.NewTokenService(cfg.Secret, cfg.TokenTTL)
	runner := exec.NewClient(cfg.ExecURL, cfg.ExecKey, cfg.ExecHost, cfg.ProxyTimeout)
	assistant := ai.NewClient(cfg.AIURL, cfg.AIKey, cfg.AIModel, cfg.ProxyTimeout)

	registry := app.NewRegistry()
	sessions := app.NewSessions(store, cfg.FlushRetries, cfg.FlushBackoff)
	broadcast := app.NewRouter(registry, sessions, store, app.SimplePolicy{})
	enforcer := app.NewEnforcer(registry, broadcast)

	ws := signal.NewController(broadcast, enforcer, tokens, store, runner, cfg.ReadLimit)
	api := &router.API{
		Store:     store,
		Tokens:    tokens,
		Enforcer:  enforcer,
		Runner:    runner,
		Assistant: assistant,
	}

	r := router.SetupRouter(ctx, cfg, api, ws)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("SlateAssist server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func signalContext() (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
