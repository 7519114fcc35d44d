package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/gorilla/websocket"

	"rematch/internal/shared/model"
)

// watchMessage 服务端推送的消息
type watchMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WatchTask 通过 WebSocket 订阅任务进度，每次变化调用 fn，任务结束时返回
//
// 任务以 failed 结束时返回 ErrTaskFailed；任务不存在返回 errdefs NotFound。
func (a *API) WatchTask(ctx context.Context, taskID int64, fn func(*model.Task)) (*model.Task, error) {
	url := "ws" + strings.TrimPrefix(a.baseURL, "http") + "/ws/tasks/" + strconv.FormatInt(taskID, 10)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: task %d", errdefs.ErrNotFound, taskID)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: watch task %d: %v", errdefs.ErrUnavailable, taskID, err)
	}
	defer conn.Close()

	// ctx 取消时关闭连接以打断阻塞读
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var last *model.Task
	for {
		var msg watchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("%w: watch task %d: %v", errdefs.ErrUnavailable, taskID, err)
		}

		switch msg.Type {
		case "progress", "status":
			var task model.Task
			if err := json.Unmarshal(msg.Data, &task); err != nil {
				return last, fmt.Errorf("%w: decode task: %v", errdefs.ErrInternal, err)
			}
			last = &task
			if msg.Type == "progress" && fn != nil {
				fn(&task)
			}
			if msg.Type == "status" {
				if task.Status == model.TaskStatusFailed {
					return last, fmt.Errorf("%w: task %d", ErrTaskFailed, taskID)
				}
				return last, nil
			}
		case "error":
			var body struct {
				Error string `json:"error"`
			}
			json.Unmarshal(msg.Data, &body)
			if body.Error == "task deleted" {
				return last, fmt.Errorf("%w: task %d deleted", errdefs.ErrNotFound, taskID)
			}
			return last, errors.New(body.Error)
		}
	}
}
