package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/zoharbabin/video-exploratorium/internal/config"
	"github.com/zoharbabin/video-exploratorium/internal/logger"
)

// Handler 处理单条入站消息
type Handler interface {
	Handle(ctx context.Context, connectionID string, raw []byte)
}

type Server struct {
	config   config.Server
	registry *Registry
	handler  Handler

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc

	// wg 跟踪连接读循环和消息处理协程，closed 之后不再 Add
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg config.Server, registry *Registry, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		registry: registry,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回 WebSocket 与健康检查路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, websocket.Server{
		// 不校验 Origin
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serveConn,
	})
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

// ListenAndServe 阻塞直到服务关闭
func (s *Server) ListenAndServe() error {
	logger.Infof("[Server] 监听 %s, WebSocket 路径 %s", s.config.Addr, s.config.Path)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close 停止接受新连接，关闭现有连接并等待进行中的请求退出
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.registry.CloseAll()
	s.wg.Wait()
	return err
}

// track 在服务未关闭时登记一个协程
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) serveConn(ws *websocket.Conn) {
	if !s.track() {
		_ = ws.Close()
		return
	}
	defer s.wg.Done()

	if s.config.MaxPayloadBytes > 0 {
		ws.MaxPayloadBytes = s.config.MaxPayloadBytes
	}

	id := s.registry.add(ws)
	ctx, cancel := context.WithCancel(s.ctx)
	// 服务关闭时中断阻塞中的读取
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()
	defer func() {
		cancel()
		s.registry.remove(id)
		_ = ws.Close()
		logger.Infof("[Server] 连接已关闭, connection: %s", id)
	}()
	logger.Infof("[Server] 新连接, connection: %s, remote: %s", id, ws.Request().RemoteAddr)

	for {
		var data []byte
		err := websocket.Message.Receive(ws, &data)
		switch {
		case err == nil:
		case errors.Is(err, websocket.ErrFrameTooLarge):
			logger.Warnf("[Server] 消息超过 %d 字节，已丢弃, connection: %s", ws.MaxPayloadBytes, id)
			continue
		case errors.Is(err, io.EOF):
			return
		default:
			if ctx.Err() == nil {
				logger.Warnf("[Server] 读取消息失败, connection: %s, %v", id, err)
			}
			return
		}

		if !s.track() {
			return
		}
		go func() {
			defer s.wg.Done()
			s.handler.Handle(ctx, id, data)
		}()
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.registry.Len(),
	})
}
