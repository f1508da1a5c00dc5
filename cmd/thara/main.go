package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"thara/voice/internal/api"
	"thara/voice/internal/capture"
	"thara/voice/internal/config"
	"thara/voice/internal/convo"
	"thara/voice/internal/dataset"
	"thara/voice/internal/gateway"
	"thara/voice/internal/health"
	"thara/voice/internal/query"
	"thara/voice/internal/stt"
	"thara/voice/internal/tts"
	"thara/voice/internal/turn"
	"thara/voice/internal/vad"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	clog := convo.NewLog()
	gate := dataset.NewGate(func() {
		clog.Notify("info", "Connect a dataset before asking questions.")
	})

	gw := gateway.NewServer(gateway.Config{
		TokenSecret:   cfg.Gateway.TokenSecret,
		TokenSkewSecs: cfg.Gateway.TokenSkewSecs,
	}, logger.Named("gateway"))

	mgr := capture.NewManager(gw, vad.Config{
		SampleInterval:   cfg.VAD.SampleInterval,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
		SilenceDuration:  cfg.VAD.SilenceDuration,
		MinSpeech:        cfg.VAD.MinSpeech,
	}, cfg.Capture.MaxDuration, logger.Named("capture"))

	sttClient := stt.NewClient(stt.Config{
		BaseURL:  cfg.STT.BaseURL,
		APIKey:   cfg.STT.APIKey,
		Model:    cfg.STT.Model,
		Language: cfg.STT.Language,
	}, logger.Named("stt"))
	queryClient := query.NewClient(query.Config{
		BaseURL: cfg.Query.BaseURL,
		APIKey:  cfg.Query.APIKey,
	}, logger.Named("query"))
	ttsClient := tts.NewClient(tts.Config{
		BaseURL: cfg.TTS.BaseURL,
		APIKey:  cfg.TTS.APIKey,
		VoiceID: cfg.TTS.VoiceID,
	}, logger.Named("tts"))

	orch := turn.New(turn.Config{
		HandsFree:      cfg.Turn.HandsFree,
		VoiceReplies:   cfg.Turn.VoiceReplies,
		ResumeDelay:    cfg.Turn.ResumeDelay,
		ToggleCooldown: cfg.Turn.ToggleCooldown,
		Farewell: turn.FarewellConfig{
			Phrases: cfg.Turn.FarewellPhrases,
			Replies: cfg.Turn.FarewellReplies,
		},
	}, mgr, sttClient, queryClient, ttsClient, gw, clog, gate, logger.Named("turn"))

	h := api.NewHandlers(cfg, orch, clog, gate)
	router := api.NewRouter(h, gw.HandleClientWS)

	// Startup probe of the remote services, logged but not fatal.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		status := health.CheckAll(ctx, cfg)
		if status.OK {
			logger.Info("remote services reachable")
		} else {
			logger.Warn("remote service check failed", zap.String("report", status.String()))
		}
	}()

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(logger, router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("shutdown signal received, stopping server")
		orch.HangUp()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("server starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
