package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zoharbabin/video-exploratorium/internal/config"
	"github.com/zoharbabin/video-exploratorium/internal/logger"
)

// Purger 可清理过期条目的缓存
type Purger interface {
	Purge() int
}

// Gauge 返回当前数量，用于巡检日志
type Gauge func() int

type Housekeeper struct {
	cron        *cron.Cron
	purger      Purger
	inFlight    Gauge
	connections Gauge
	config      *config.Housekeeping
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	runs        int
}

// locUTC UTC 标准时间（UTC）
var locUTC = time.UTC

func NewHousekeeper(purger Purger, inFlight, connections Gauge, cfg *config.Housekeeping) *Housekeeper {
	return &Housekeeper{
		cron:        cron.New(cron.WithLocation(locUTC)),
		purger:      purger,
		inFlight:    inFlight,
		connections: connections,
		config:      cfg,
	}
}

// Start 启动巡检任务
func (h *Housekeeper) Start() error {
	h.mu.Lock()
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.mu.Unlock()

	_, err := h.cron.AddFunc(h.config.Cron, h.runOnce)
	if err != nil {
		return fmt.Errorf("注册巡检任务失败: %w", err)
	}

	h.cron.Start()
	logger.Infof("[Housekeeper] 巡检任务已启动: %s", h.config.Cron)
	return nil
}

// Stop 停止巡检任务，等待正在执行的任务结束
func (h *Housekeeper) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()

	ctx := h.cron.Stop()
	<-ctx.Done()
	logger.Infof("[Housekeeper] 巡检任务已停止")
}

// Runs 已执行的巡检次数
func (h *Housekeeper) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// runOnce 清理过期字幕缓存并记录当前负载
func (h *Housekeeper) runOnce() {
	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()

	if ctx != nil {
		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	removed := 0
	if h.purger != nil {
		removed = h.purger.Purge()
	}
	logger.Infof("[Housekeeper] 清理缓存 %d 条, 处理中请求 %d 个, 在线连接 %d 个",
		removed, gaugeValue(h.inFlight), gaugeValue(h.connections))

	h.mu.Lock()
	h.runs++
	h.mu.Unlock()
}

func gaugeValue(g Gauge) int {
	if g == nil {
		return 0
	}
	return g()
}
