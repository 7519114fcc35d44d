// Package infra 基础设施聚合层
//
// 根据配置初始化并持有进程级依赖：
//   - Store：持久化存储（PostgreSQL / SQLite）
//   - Queue：任务队列（Redis Streams，未配置时为进程内队列）
//   - Events：任务事件总线（同上）
//   - Reports：任务报告归档（MinIO，可选）
//   - Registry：匹配策略注册表
package infra

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rematch/internal/config"
	"rematch/internal/matcher"
	"rematch/internal/orchestrator"
	"rematch/internal/shared/eventbus"
	"rematch/internal/shared/objstore"
	"rematch/internal/shared/queue"
	"rematch/internal/shared/storage/dbutil"
	"rematch/internal/shared/storage/repository"
	"rematch/pkg/logging"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Store 持久化存储
	Store *repository.Store

	// Queue 任务队列
	Queue queue.TaskQueue

	// Events 任务事件总线
	Events eventbus.EventBus

	// Reports 报告归档，未配置 MinIO 时为 nil
	Reports *objstore.Client

	// Registry 匹配策略注册表
	Registry *matcher.Registry
}

// New 按配置初始化全部基础设施，任一步失败时关闭已打开的连接
func New(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	// 策略配置错误在连接任何外部依赖前暴露
	registry, err := matcher.BuildRegistry(cfg.Matcher)
	if err != nil {
		return nil, fmt.Errorf("matcher config: %w", err)
	}
	i := &Infrastructure{Registry: registry}

	driver, err := dbutil.ParseDriverType(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	i.Store, err = repository.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	log.Printf("[infra.store] driver=%s", driver)

	i.Queue, err = OpenQueue(cfg.RedisURL)
	if err != nil {
		i.Close()
		return nil, err
	}
	i.Events, err = OpenEventBus(cfg.RedisURL)
	if err != nil {
		i.Close()
		return nil, err
	}

	if cfg.MinIO.Endpoint != "" {
		reports, err := objstore.NewClient(cfg.MinIO)
		if err != nil {
			i.Close()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := reports.EnsureBucket(ctx); err != nil {
			i.Close()
			return nil, fmt.Errorf("minio bucket %s: %w", reports.Bucket(), err)
		}
		i.Reports = reports
		log.Printf("[infra.reports] endpoint=%s bucket=%s", cfg.MinIO.Endpoint, reports.Bucket())
	} else {
		log.Printf("[infra.reports] disabled (no minio endpoint)")
	}

	log.Printf("[infra.registry] strategies=%v", registry.Names())
	return i, nil
}

// ReportSink 编排器使用的报告归档，未配置时返回 nil 接口
func (i *Infrastructure) ReportSink() orchestrator.ReportSink {
	if i.Reports == nil {
		return nil
	}
	return i.Reports
}

// NewRunner 基于本基础设施创建编排器
func (i *Infrastructure) NewRunner(cfg config.WorkerConfig, metrics orchestrator.Metrics, logger *logging.Logger) *orchestrator.Runner {
	opts := []orchestrator.Option{
		orchestrator.WithBatchSize(cfg.MatchBatchSize),
		orchestrator.WithLogger(logger),
	}
	if i.Events != nil {
		opts = append(opts, orchestrator.WithEvents(i.Events))
	}
	if sink := i.ReportSink(); sink != nil {
		opts = append(opts, orchestrator.WithReportSink(sink))
	}
	if metrics != nil {
		opts = append(opts, orchestrator.WithMetrics(metrics))
	}
	return orchestrator.NewRunner(i.Store, i.Registry, opts...)
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var errs []error
	if i.Events != nil {
		errs = append(errs, i.Events.Close())
	}
	if i.Queue != nil {
		errs = append(errs, i.Queue.Close())
	}
	if i.Store != nil {
		errs = append(errs, i.Store.Close())
	}
	return errors.Join(errs...)
}
