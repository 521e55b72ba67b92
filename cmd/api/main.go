package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/bytebrain/docchat/internal/config"
	"github.com/bytebrain/docchat/internal/handler"
	chathandler "github.com/bytebrain/docchat/internal/handler/chat"
	"github.com/bytebrain/docchat/internal/observability/logging"
	"github.com/bytebrain/docchat/internal/observability/metrics"
	"github.com/bytebrain/docchat/internal/service/ai"
	"github.com/bytebrain/docchat/internal/service/feedback"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.DefaultConfig())
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.Log)

	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	m := metrics.Default()

	deps := handler.Dependencies{
		Dummy:    chathandler.NewDummyAnswerer(cfg.Server.TokenDelay),
		Feedback: feedback.NewService(),
		Metrics:  m,
	}

	// Initialize AI service
	if cfg.AI.Enabled() {
		prompts := ai.NewPromptBuilder(cfg.Server.PromptTemplate, cfg.Server.ProjectName)
		aiService, err := ai.NewService(ctx, cfg.AI, prompts)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, /chat disabled - 请检查 Ark 模型相关环境变量")
		} else {
			deps.Answerer = chathandler.ModelAnswerer{Model: aiService}
			log.Info().Str("model", cfg.AI.Model).Bool("stream", aiService.StreamingEnabled()).Msg("AI service initialized")
		}
	} else {
		log.Info().Msg("Ark 凭证未配置，/chat 不可用，/dummy_chat 仍可使用")
	}

	startServer(ctx, cfg.Server, handler.NewRouter(deps))
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Str("project", serverCfg.ProjectName).Msg("docchat server listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
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
