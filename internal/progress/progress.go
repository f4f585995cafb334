package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/zoharbabin/video-exploratorium/internal/logger"
)

// Stage 进度事件的阶段
type Stage string

const (
	StageVideos             Stage = "videos"
	StageChunkProgress      Stage = "chunk_progress"
	StageCombinedSummary    Stage = "combined_summary"
	StageCrossVideoInsights Stage = "cross_video_insights"
	StageFollowupQuestions  Stage = "followup_questions"
	StageChatResponse       Stage = "chat_response" // 保留，当前未使用
	StageAnswer             Stage = "answer"
	StageCompleted          Stage = "completed"
	StageError              Stage = "error"
)

// ErrDisconnected 对端连接已断开
var ErrDisconnected = errors.New("connection is gone")

// Event 发送给客户端的进度事件
type Event struct {
	RequestID string `json:"request_id"`
	Stage     Stage  `json:"stage"`
	Data      any    `json:"data"`
}

// Sender 按连接 ID 投递原始消息
type Sender interface {
	Send(connectionID string, payload []byte) error
}

// Emitter 向单个请求所属的连接推送进度事件。
// 投递即忘，失败只记录日志；发现连接断开后调用 cancel 终止该请求的后续工作。
type Emitter struct {
	sender       Sender
	connectionID string
	requestID    string
	cancel       context.CancelFunc

	mu   sync.Mutex
	gone bool
	sent int
}

func NewEmitter(sender Sender, connectionID, requestID string, cancel context.CancelFunc) *Emitter {
	return &Emitter{
		sender:       sender,
		connectionID: connectionID,
		requestID:    requestID,
		cancel:       cancel,
	}
}

func (e *Emitter) RequestID() string { return e.requestID }

// Emit 推送一个事件
func (e *Emitter) Emit(stage Stage, data any) {
	payload, err := json.Marshal(Event{RequestID: e.requestID, Stage: stage, Data: data})
	if err != nil {
		logger.Errorf("[Progress] 序列化事件失败, request: %s, stage: %s, %v", e.requestID, stage, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gone {
		logger.Debugf("[Progress] 连接已断开，丢弃事件, connection: %s, request: %s, stage: %s",
			e.connectionID, e.requestID, stage)
		return
	}

	err = e.sender.Send(e.connectionID, payload)
	switch {
	case err == nil:
		e.sent++
	case errors.Is(err, ErrDisconnected):
		logger.Warnf("[Progress] 客户端已断开, connection: %s, request: %s, stage: %s",
			e.connectionID, e.requestID, stage)
		e.gone = true
		if e.cancel != nil {
			e.cancel()
		}
	default:
		logger.Errorf("[Progress] 发送事件失败, connection: %s, request: %s, stage: %s, %v",
			e.connectionID, e.requestID, stage, err)
	}
}

// Error 推送 error 阶段事件，message 为给客户端看的简短描述
func (e *Emitter) Error(message string) {
	e.Emit(StageError, message)
}

// Gone 连接是否已断开
func (e *Emitter) Gone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gone
}

// Sent 已成功投递的事件数
func (e *Emitter) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}
