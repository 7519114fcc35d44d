package infra

import (
	"log"

	"rematch/internal/shared/eventbus"
	eventbusredis "rematch/internal/shared/eventbus/redis"
	"rematch/internal/shared/queue"
	queueredis "rematch/internal/shared/queue/redis"
)

// OpenQueue 创建任务队列
//
// redisURL 为空时使用进程内队列，只适用于 API Server 内嵌 worker 的单进程部署。
func OpenQueue(redisURL string) (queue.TaskQueue, error) {
	if redisURL == "" {
		log.Printf("[infra.queue] backend=memory")
		return queue.NewMemoryQueue(), nil
	}
	q, err := queueredis.NewFromURL(redisURL)
	if err != nil {
		return nil, err
	}
	log.Printf("[infra.queue] backend=redis stream=%s", queue.KeyMatchTasks)
	return q, nil
}

// OpenEventBus 创建任务事件总线，redisURL 为空时使用进程内总线
func OpenEventBus(redisURL string) (eventbus.EventBus, error) {
	if redisURL == "" {
		log.Printf("[infra.events] backend=memory")
		return eventbus.NewMemoryBus(), nil
	}
	bus, err := eventbusredis.NewFromURL(redisURL)
	if err != nil {
		return nil, err
	}
	log.Printf("[infra.events] backend=redis prefix=%s", eventbus.KeyTaskEvents)
	return bus, nil
}
