// Package main 匹配任务 Worker 入口
//
// 从 Redis Streams 消费任务并执行编排器，可水平扩展多个实例。
// 设置 WORKER_METRICS_PORT 时在该端口暴露 /metrics 与 /health。
package main

import (
	"context"
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
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[worker.config_failed] error=%v", err)
	}
	if cfg.RedisURL == "" {
		log.Fatalf("[worker.config_failed] error=redis is required for a standalone worker")
	}

	log.Printf("Starting Match Worker... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inf, err := infra.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[worker.infra_failed] error=%v", err)
	}
	defer inf.Close()

	metrics := server.NewMetrics("rematch_worker")
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "orchestrator"})
	runner := inf.NewRunner(cfg.Worker, metrics, logger)
	pool := worker.NewPool(cfg.Worker, inf.Queue, runner, inf.Store)

	var metricsSrv *http.Server
	if port := os.Getenv("WORKER_METRICS_PORT"); port != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		metricsSrv = &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Printf("[worker.metrics] listening on :%s", port)
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[worker.metrics] error=%v", err)
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down worker...")
		pool.Stop()
		if metricsSrv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	// 阻塞直到 Stop，进行中的任务会执行完
	pool.Start(ctx)
	log.Println("Worker stopped")
}
