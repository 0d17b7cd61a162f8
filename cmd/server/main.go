package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"bot-gemini-middleware/internal/config"
	"bot-gemini-middleware/internal/freshchat"
	"bot-gemini-middleware/internal/llm"
	"bot-gemini-middleware/internal/logging"
	"bot-gemini-middleware/internal/metrics"
	"bot-gemini-middleware/internal/pending"
	"bot-gemini-middleware/internal/relay"
	"bot-gemini-middleware/internal/scheduler"
	"bot-gemini-middleware/internal/server"
	"bot-gemini-middleware/internal/storage"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.AppLogPath)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	rec, err := storage.NewRecorder(cfg.GeneralLogPath, cfg.RawLogPath, cfg.LockTimeout)
	if err != nil {
		lg.Fatalf("failed to init recorder: %v", err)
	}
	hist, err := storage.NewHistoryStore(cfg.HistoryDir, cfg.LockTimeout)
	if err != nil {
		lg.Fatalf("failed to init history store: %v", err)
	}
	ids, err := storage.NewIDLog(cfg.IDLogPath, cfg.LockTimeout)
	if err != nil {
		lg.Fatalf("failed to init id log: %v", err)
	}
	pendRepo, err := pending.NewFileRepository(cfg.PendingFilePath, cfg.LockTimeout)
	if err != nil {
		lg.Fatalf("failed to init pending repo: %v", err)
	}

	systemPrompt := readSystemPrompt(lg, cfg.SystemPromptPath)
	aiClient := llm.NewGemini(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel, systemPrompt, cfg.UpstreamTimeout)
	chatClient := freshchat.New(cfg.FreshchatBaseURL, cfg.FreshchatAPIToken, cfg.UpstreamTimeout)

	met := metrics.New()
	tasks := relay.NewTasks(context.Background(), lg)
	svc := relay.NewService(rec, hist, ids, pendRepo, aiClient, chatClient, met, tasks, lg)

	cleaner := &storage.Cleaner{
		DataDir:    filepath.Dir(cfg.GeneralLogPath),
		HistoryDir: hist.Dir(),
		LogFiles:   []string{rec.GeneralPath(), rec.RawPath(), ids.Path()},
	}

	sched := scheduler.New(cfg.CleanupSchedule, lg)
	sched.SetCleanupFunction(func(_ context.Context) error {
		res, err := cleaner.Run(time.Now())
		if err != nil {
			return err
		}
		lg.Infof("cleanup removed %d artifacts", res.Total())
		return nil
	})
	if err := sched.Start(); err != nil {
		lg.Fatalf("failed to start scheduler: %v", err)
	}

	srv := server.New(cfg, svc, rec, hist, ids, met, aiClient, chatClient, cleaner, lg)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		lg.Infof("listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		lg.Errorf("http shutdown: %v", err)
	}
	sched.Stop()

	// Let in-flight completions land so accepted questions are not lost.
	tasks.Wait()
	lg.Info("bye")
}

func readSystemPrompt(lg *zap.SugaredLogger, path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		lg.Warnf("system prompt file not found or unreadable at %s: %v", path, err)
		return ""
	}
	return string(data)
}
