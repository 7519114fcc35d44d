// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rematch/internal/apiserver/server"
	"rematch/internal/config"
	"rematch/internal/shared/infra"
	"rematch/internal/worker"
	"rematch/pkg/logging"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 选择 configs/{env}.yaml）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[api-server.config_failed] error=%v", err)
	}

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化存储、队列、报告归档与策略注册表
	inf, err := infra.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[api-server.infra_failed] error=%v", err)
	}
	defer inf.Close()

	opts := server.Options{
		Pagination: cfg.Pagination,
		MaxBulk:    cfg.APIServer.MaxBulk,
		Logger:     newLogger(cfg, "api-server"),
		Events:     inf.Events,
	}
	if inf.Reports != nil {
		opts.Reports = inf.Reports
	}
	h := server.NewHandler(inf.Store, inf.Queue, inf.Registry, opts)

	// 进程内队列只能由本进程消费
	embedded := cfg.Worker.Embedded
	if !embedded && cfg.RedisURL == "" {
		log.Printf("[api-server.worker_forced] reason=memory_queue")
		embedded = true
	}
	if embedded {
		runner := inf.NewRunner(cfg.Worker, h.GetMetrics(), newLogger(cfg, "orchestrator"))
		pool := worker.NewPool(cfg.Worker, inf.Queue, runner, inf.Store)
		go pool.Start(ctx)
		defer pool.Stop()
		log.Printf("[api-server.worker_embedded] worker_id=%s concurrency=%d", pool.ID(), cfg.Worker.Concurrency)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

func newLogger(cfg *config.Config, component string) *logging.Logger {
	return logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: component,
	})
}
