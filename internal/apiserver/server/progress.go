package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rematch/internal/shared/eventbus"
	"rematch/internal/shared/model"
	"rematch/internal/shared/storage"
)

const (
	// DefaultProgressInterval 进度轮询间隔
	DefaultProgressInterval = 500 * time.Millisecond

	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// upgrader WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TaskGetter 进度推送依赖的存储能力
type TaskGetter interface {
	GetTask(ctx context.Context, id int64) (*model.Task, error)
}

// ProgressMessage 推送给客户端的消息
//
//	{"type":"progress","data":{...task}}  进度变化
//	{"type":"status","data":{...task}}    任务结束，随后服务端关闭连接
//	{"type":"error","data":{"error":...}} 任务被删除或读取失败
//	{"type":"pong"}                       响应客户端 {"type":"ping"}
type ProgressMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ProgressGateway 任务进度 WebSocket 网关
//
// 每个连接独立轮询任务记录，仅在 status / progress / progress_max 变化时推送。
// 配置事件总线后，收到任务事件立即刷新，轮询作为兜底。
type ProgressGateway struct {
	store    TaskGetter
	events   eventbus.Subscriber
	metrics  *Metrics
	interval time.Duration

	clients map[int64]map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewProgressGateway 创建进度网关，metrics 可为 nil
func NewProgressGateway(store TaskGetter, metrics *Metrics) *ProgressGateway {
	return &ProgressGateway{
		store:    store,
		metrics:  metrics,
		interval: DefaultProgressInterval,
		clients:  make(map[int64]map[*websocket.Conn]bool),
	}
}

// SetInterval 设置轮询间隔
func (g *ProgressGateway) SetInterval(d time.Duration) {
	g.interval = d
}

// SetEvents 设置任务事件订阅
func (g *ProgressGateway) SetEvents(sub eventbus.Subscriber) {
	g.events = sub
}

// ClientCount 订阅指定任务的连接数
func (g *ProgressGateway) ClientCount(taskID int64) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients[taskID])
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/tasks/{id}
//
// 任务不存在时在升级前返回 404。
func (g *ProgressGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := g.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws.upgrade_failed] task=%d error=%v", taskID, err)
		return
	}

	g.addClient(taskID, conn)
	defer g.removeClient(taskID, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wake <-chan *eventbus.TaskEvent
	if g.events != nil && !task.Status.IsTerminal() {
		if wake, err = g.events.SubscribeTaskEvents(ctx, taskID); err != nil {
			log.Printf("[ws.subscribe_failed] task=%d error=%v", taskID, err)
			wake = nil
		}
	}

	pings := make(chan struct{}, 1)
	go g.readPump(conn, cancel, pings)
	g.writePump(ctx, conn, task, pings, wake)
}

func (g *ProgressGateway) addClient(taskID int64, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[taskID] == nil {
		g.clients[taskID] = make(map[*websocket.Conn]bool)
	}
	g.clients[taskID][conn] = true
	if g.metrics != nil {
		g.metrics.WSConnectionOpened()
	}
	log.Printf("[ws.connected] task=%d clients=%d", taskID, len(g.clients[taskID]))
}

func (g *ProgressGateway) removeClient(taskID int64, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if clients, ok := g.clients[taskID]; ok {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(g.clients, taskID)
		}
	}
	conn.Close()
	if g.metrics != nil {
		g.metrics.WSConnectionClosed()
	}
	log.Printf("[ws.disconnected] task=%d", taskID)
}

// readPump 读取客户端消息，连接断开时取消 writePump
//
// 应用层 ping 交给 writePump 回复，保证同一时刻只有一个写者。
func (g *ProgressGateway) readPump(conn *websocket.Conn, cancel context.CancelFunc, pings chan<- struct{}) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg ProgressMessage
		if json.Unmarshal(message, &msg) == nil && msg.Type == "ping" {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

// writePump 轮询任务并推送变化，任务结束后发送 status 并关闭连接
func (g *ProgressGateway) writePump(ctx context.Context, conn *websocket.Conn, task *model.Task, pings <-chan struct{}, wake <-chan *eventbus.TaskEvent) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	// 首条消息立即推送当前状态
	if !g.push(conn, task) {
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	last := task
	for {
		select {
		case <-ctx.Done():
			return

		case <-pings:
			if g.send(conn, ProgressMessage{Type: "pong"}) != nil {
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			next, done := g.refresh(ctx, conn, last)
			if done {
				return
			}
			last = next

		case <-ticker.C:
			next, done := g.refresh(ctx, conn, last)
			if done {
				return
			}
			last = next
		}
	}
}

// refresh 重新读取任务并在变化时推送，返回最新任务与是否应结束
func (g *ProgressGateway) refresh(ctx context.Context, conn *websocket.Conn, last *model.Task) (*model.Task, bool) {
	current, err := g.store.GetTask(ctx, last.ID)
	if err != nil {
		if ctx.Err() != nil {
			return last, true
		}
		msg := "failed to get task"
		if errors.Is(err, storage.ErrNotFound) {
			msg = "task deleted"
		}
		g.send(conn, ProgressMessage{Type: "error", Data: map[string]string{"error": msg}})
		g.close(conn)
		return last, true
	}
	if !changed(last, current) {
		return last, false
	}
	if !g.push(conn, current) {
		return current, true
	}
	return current, current.Status.IsTerminal()
}

// push 推送进度；终态时追加 status 消息并发送关闭帧，返回连接是否仍可用
func (g *ProgressGateway) push(conn *websocket.Conn, task *model.Task) bool {
	if err := g.send(conn, ProgressMessage{Type: "progress", Data: task}); err != nil {
		return false
	}
	if task.Status.IsTerminal() {
		g.send(conn, ProgressMessage{Type: "status", Data: task})
		g.close(conn)
	}
	return true
}

func (g *ProgressGateway) send(conn *websocket.Conn, msg ProgressMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (g *ProgressGateway) close(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

func changed(a, b *model.Task) bool {
	if a.Status != b.Status || a.Progress != b.Progress {
		return true
	}
	if (a.ProgressMax == nil) != (b.ProgressMax == nil) {
		return true
	}
	return a.ProgressMax != nil && *a.ProgressMax != *b.ProgressMax
}
