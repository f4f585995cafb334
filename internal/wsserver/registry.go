package wsserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/zoharbabin/video-exploratorium/internal/progress"
)

type connection struct {
	ws *websocket.Conn
	mu sync.Mutex // 串行化同一连接上的写
}

// Registry 按连接 ID 管理当前打开的 WebSocket 连接
type Registry struct {
	mu           sync.RWMutex
	conns        map[string]*connection
	writeTimeout time.Duration
}

// NewRegistry writeTimeout 为单条消息的写超时，0 表示不设超时
func NewRegistry(writeTimeout time.Duration) *Registry {
	return &Registry{
		conns:        make(map[string]*connection),
		writeTimeout: writeTimeout,
	}
}

func (r *Registry) add(ws *websocket.Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = &connection{ws: ws}
	r.mu.Unlock()
	return id
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *Registry) get(id string) *connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Send 向连接发送一条文本消息，连接不存在、写失败或写超时时返回 progress.ErrDisconnected。
// 写超时说明对端已不再读取，连接会被关闭。
func (r *Registry) Send(connectionID string, payload []byte) error {
	c := r.get(connectionID)
	if c == nil {
		return progress.ErrDisconnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
			r.drop(connectionID, c)
			return fmt.Errorf("%w: %v", progress.ErrDisconnected, err)
		}
	}
	if err := websocket.Message.Send(c.ws, string(payload)); err != nil {
		r.drop(connectionID, c)
		return fmt.Errorf("%w: %v", progress.ErrDisconnected, err)
	}
	return nil
}

// drop 移除并关闭连接，读循环随之退出
func (r *Registry) drop(id string, c *connection) {
	r.remove(id)
	_ = c.ws.Close()
}

// Len 当前打开的连接数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll 关闭所有连接
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}
