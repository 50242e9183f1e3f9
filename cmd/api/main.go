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

	"ai-call-center/internal/auth"
	"ai-call-center/internal/calllog"
	"ai-call-center/internal/calls"
	"ai-call-center/internal/config"
	"ai-call-center/internal/gateway"
	"ai-call-center/internal/httpapi"
	"ai-call-center/internal/queue"
	"ai-call-center/internal/reporting"
	"ai-call-center/internal/store"
	"ai-call-center/internal/telephony"
	"ai-call-center/internal/tts"
	"ai-call-center/internal/worker"
	"ai-call-center/pkg/logger"
	"ai-call-center/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	operator := auth.NewOperator(cfg.Operator)
	if operator == nil {
		log.Warn("no operator account configured; login is disabled")
	}

	repo, closeRepo, err := openStore(rootCtx, cfg, log)
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer closeRepo()

	guard, closeGuard, err := openGuard(rootCtx, cfg, log)
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer closeGuard()

	engine, err := newSpeechEngine(cfg.TTS)
	if err != nil {
		log.Error("tts init failed", "err", err)
		os.Exit(1)
	}

	dialer := telephony.NewMux().
		Register(calls.ProtocolAMI, &telephony.AMIDialer{DialTimeout: cfg.Telephony.DialTimeout}).
		Register(calls.ProtocolARI, telephony.NewARIDialer(cfg.Telephony.ARIApplication, cfg.Telephony.DialTimeout)).
		Register(calls.ProtocolESL, &telephony.ESLDialer{DialTimeout: cfg.Telephony.DialTimeout})

	jobs := queue.New()

	w, err := worker.New(worker.Deps{
		Queue:  jobs,
		Store:  repo,
		Logs:   calllog.NewService(repo),
		Voice:  tts.NewService(engine, cfg.Media.Root),
		Dialer: dialer,
		Guard:  guard,
		Log:    log,
	}, worker.Config{
		Channel:          cfg.Telephony.Channel,
		Context:          cfg.Telephony.Context,
		Priority:         cfg.Telephony.Priority,
		OriginateTimeout: cfg.Telephony.OriginateTimeout,
		OriginateRPS:     cfg.Worker.OriginateRPS,
	})
	if err != nil {
		log.Error("worker init failed", "err", err)
		os.Exit(1)
	}

	// Recovery must finish before the gateway accepts new submissions.
	report, err := w.Recover(rootCtx)
	if err != nil {
		log.Error("startup recovery failed", "err", err)
		os.Exit(1)
	}
	log.Info("startup recovery done", "failed", report.Failed, "requeued", report.Requeued)

	// A worker halted by store failures shuts the process down so a supervisor
	// restart runs Recover for the stranded job.
	var workerErr error
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := w.Run(rootCtx); err != nil {
			workerErr = err
			log.Error("worker stopped", "err", err)
			stop()
		}
	}()

	h := httpapi.Handlers{
		Auth:     authManager,
		Operator: operator,
		Gateway:  gateway.NewService(repo, jobs, cfg.Phone.DefaultRegion),
		Reports:  reporting.NewService(repo, time.Local),
		Catalog:  repo,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz"))
	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// The in-flight job finishes its terminal write under a detached context.
	select {
	case <-workerDone:
		if workerErr != nil {
			closeGuard()
			closeRepo()
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		log.Warn("worker did not stop before shutdown deadline")
	}
}

// openStore returns Postgres when DB_HOST is set and an in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Repository, func(), error) {
	if !cfg.UsesPostgres() {
		log.Warn("DB_HOST not set; using in-memory store")
		return store.NewMemoryRepo(), func() {}, nil
	}
	if err := store.RunMigrations(cfg.PostgresURL()); err != nil {
		return nil, nil, err
	}
	db, err := utils.OpenPostgres(ctx, utils.PostgresDriver, cfg.PostgresURL(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresRepo(db), func() { _ = db.Close() }, nil
}

// openGuard returns a Redis-backed session guard when REDIS_HOST is set.
func openGuard(ctx context.Context, cfg config.Config, log *slog.Logger) (worker.SessionGuard, func(), error) {
	if !cfg.UsesRedis() {
		log.Info("REDIS_HOST not set; using in-process session guard")
		return worker.NewLocalGuard(), func() {}, nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return nil, nil, err
	}
	return worker.NewRedisGuard(rdb, cfg.Worker.SessionTTL), func() { _ = rdb.Close() }, nil
}

func newSpeechEngine(cfg config.TTSConfig) (tts.Engine, error) {
	switch cfg.Engine {
	case config.TTSEnginePolly:
		p, err := tts.NewPolly(cfg.PollyRegion)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.TTSEngineEspeak, "":
		return tts.NewEspeak(cfg.EspeakBin), nil
	default:
		return nil, fmt.Errorf("unknown TTS engine %q", cfg.Engine)
	}
}
