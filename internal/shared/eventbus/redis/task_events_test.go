package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"rematch/internal/shared/eventbus"
	"rematch/internal/shared/model"
)

func TestParseEvent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		values map[string]interface{}
		want   eventbus.TaskEvent
	}{
		{
			"完整事件",
			map[string]interface{}{
				"type": "progress", "status": "started",
				"progress": "1", "progress_max": "2",
				"timestamp": ts.Format(time.RFC3339Nano),
			},
			eventbus.TaskEvent{ID: "5-0", TaskID: 9, Type: eventbus.EventProgress, Status: model.TaskStatusStarted, Progress: 1, ProgressMax: 2, Timestamp: ts},
		},
		{
			"缺少字段",
			map[string]interface{}{"type": "finished"},
			eventbus.TaskEvent{ID: "5-0", TaskID: 9, Type: eventbus.EventFinished},
		},
		{
			"非法数字",
			map[string]interface{}{"type": "progress", "progress": "x", "timestamp": "yesterday"},
			eventbus.TaskEvent{ID: "5-0", TaskID: 9, Type: eventbus.EventProgress},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEvent(9, redis.XMessage{ID: "5-0", Values: tt.values})
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestNewFromURL_InvalidURL(t *testing.T) {
	_, err := NewFromURL("://bad")
	assert.Error(t, err)
}
