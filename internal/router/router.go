package router

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/zoharbabin/video-exploratorium/internal/analysis"
	"github.com/zoharbabin/video-exploratorium/internal/kaltura"
	"github.com/zoharbabin/video-exploratorium/internal/llm"
	"github.com/zoharbabin/video-exploratorium/internal/logger"
	"github.com/zoharbabin/video-exploratorium/internal/progress"
	"github.com/zoharbabin/video-exploratorium/internal/transcript"
)

const (
	ActionGetVideos                 = "get_videos"
	ActionAnalyzeVideos             = "analyze_videos"
	ActionGenerateFollowupQuestions = "generate_followup_questions"
	ActionAskQuestion               = "ask_question"

	AuthHeader = "X-Authentication"
)

// 网关超时后回送的消息，没有 action
const timeoutMessage = "Endpoint request timed out"

// Message 客户端发来的消息
type Message struct {
	Action    string            `json:"action"`
	RequestID string            `json:"request_id"`
	Headers   map[string]string `json:"headers"`
	Message   string            `json:"message"`

	// get_videos
	CategoryID json.RawMessage `json:"categoryId"`
	FreeText   string          `json:"freeText"`

	// analyze_videos
	SelectedVideos []string `json:"selectedVideos"`

	// generate_followup_questions / ask_question
	Question    string                       `json:"question"`
	Transcripts map[string][]transcript.Line `json:"transcripts"`
	ChatHistory []string                     `json:"chat_history"`
}

// SessionValidator 校验 Kaltura 会话
type SessionValidator interface {
	ValidateSession(ctx context.Context, ks string) (bool, int64)
}

// VideoSearcher 搜索视频
type VideoSearcher interface {
	SearchVideos(ctx context.Context, ks string, query kaltura.SearchQuery) ([]kaltura.VideoInfo, error)
}

// VideoAnalyzer 分析视频
type VideoAnalyzer interface {
	AnalyzeVideos(ctx context.Context, token string, videoIDs []string, emitter analysis.Emitter) (*analysis.Report, error)
}

// Assistant 追问与问答
type Assistant interface {
	GenerateFollowupQuestions(ctx context.Context, transcripts map[string][]transcript.Line) (*llm.FollowupQuestionsResponse, error)
	AnswerQuestion(ctx context.Context, question string, transcripts map[string][]transcript.Line, history []string) (*llm.QAResponse, error)
}

type Dependencies struct {
	Sender    progress.Sender
	Sessions  SessionValidator
	Videos    VideoSearcher
	Analyzer  VideoAnalyzer
	Assistant Assistant
	PageSize  int
}

// Router 将客户端消息分发给对应的处理逻辑
type Router struct {
	deps  Dependencies
	dedup *Deduplicator
}

func New(deps Dependencies) *Router {
	return &Router{
		deps:  deps,
		dedup: NewDeduplicator(),
	}
}

// InFlight 正在处理中的请求数
func (r *Router) InFlight() int {
	return r.dedup.Len()
}

// Handle 处理一条消息。阻塞直到该请求处理完成，调用方应在独立的 goroutine 中调用。
func (r *Router) Handle(ctx context.Context, connectionID string, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warnf("[Router] 无法解析消息, connection: %s, %v", connectionID, err)
		progress.NewEmitter(r.deps.Sender, connectionID, "", nil).Error("Invalid message format")
		return
	}

	if msg.Action == "" {
		if msg.Message == timeoutMessage {
			logger.Infof("[Router] 忽略超时消息, connection: %s", connectionID)
		} else {
			logger.Debugf("[Router] 忽略没有 action 的消息, connection: %s", connectionID)
		}
		return
	}

	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	if !r.dedup.Admit(msg.RequestID) {
		logger.Infof("[Router] 丢弃重复请求, connection: %s, request: %s, action: %s",
			connectionID, msg.RequestID, msg.Action)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	emitter := progress.NewEmitter(r.deps.Sender, connectionID, msg.RequestID, cancel)
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("[Router] 处理请求时发生 panic, connection: %s, request: %s, action: %s, %v\n%s",
				connectionID, msg.RequestID, msg.Action, p, debug.Stack())
			emitter.Error(clientMessage(nil))
		}
		cancel()
		r.dedup.Release(msg.RequestID)
	}()

	logger.Infof("[Router] 收到请求, connection: %s, request: %s, action: %s", connectionID, msg.RequestID, msg.Action)
	if err := r.dispatch(ctx, &msg, emitter); err != nil {
		// 连接已关闭或请求已取消，不再回送错误
		if ctx.Err() != nil {
			logger.Warnf("[Router] 请求已取消, connection: %s, request: %s, action: %s, gone: %t, %v",
				connectionID, msg.RequestID, msg.Action, emitter.Gone(), err)
			return
		}
		logger.Errorf("[Router] 请求处理失败, connection: %s, request: %s, action: %s, %v",
			connectionID, msg.RequestID, msg.Action, err)
		emitter.Error(clientMessage(err))
	}
}

func (r *Router) dispatch(ctx context.Context, msg *Message, emitter *progress.Emitter) error {
	switch msg.Action {
	case ActionGetVideos, ActionAnalyzeVideos, ActionGenerateFollowupQuestions, ActionAskQuestion:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, msg.Action)
	}

	ks, err := r.authenticate(ctx, msg.Headers)
	if err != nil {
		return err
	}

	switch msg.Action {
	case ActionGetVideos:
		return r.getVideos(ctx, ks, msg, emitter)
	case ActionAnalyzeVideos:
		return r.analyzeVideos(ctx, ks, msg, emitter)
	case ActionGenerateFollowupQuestions:
		return r.followupQuestions(ctx, msg, emitter)
	default:
		return r.askQuestion(ctx, msg, emitter)
	}
}

// authenticate 解析 "pid:ks" 格式的认证头并校验会话，没有冒号时整个值视为 ks
func (r *Router) authenticate(ctx context.Context, headers map[string]string) (string, error) {
	header := strings.TrimSpace(headers[AuthHeader])
	if header == "" {
		return "", authError("X-Authentication header is required")
	}

	pid, ks, found := strings.Cut(header, ":")
	if !found {
		pid, ks = "", header
	}
	if ks == "" || strings.Contains(ks, ":") {
		return "", authError("Invalid X-Authentication header format, expected partner_id:kaltura_session")
	}

	valid, partnerID := r.deps.Sessions.ValidateSession(ctx, ks)
	if !valid {
		logger.Errorf("[Router] 无效的会话: %s", logger.MaskToken(ks))
		return "", authError("Invalid Kaltura session")
	}
	if pid != "" && pid != strconv.FormatInt(partnerID, 10) {
		logger.Warnf("[Router] 认证头中的 pid %s 与会话的 pid %d 不一致", pid, partnerID)
	}
	return ks, nil
}

func (r *Router) getVideos(ctx context.Context, ks string, msg *Message, emitter *progress.Emitter) error {
	query := kaltura.SearchQuery{
		CategoryIDs: rawString(msg.CategoryID),
		FreeText:    strings.TrimSpace(msg.FreeText),
		PageSize:    r.deps.PageSize,
	}
	videos, err := r.deps.Videos.SearchVideos(ctx, ks, query)
	if err != nil {
		return fmt.Errorf("搜索视频失败: %w", err)
	}
	if videos == nil {
		videos = []kaltura.VideoInfo{}
	}
	emitter.Emit(progress.StageVideos, videos)
	return nil
}

func (r *Router) analyzeVideos(ctx context.Context, ks string, msg *Message, emitter *progress.Emitter) error {
	if len(msg.SelectedVideos) == 0 {
		return invalidRequest("selectedVideos is required")
	}
	_, err := r.deps.Analyzer.AnalyzeVideos(ctx, ks, msg.SelectedVideos, emitter)
	return err
}

func (r *Router) followupQuestions(ctx context.Context, msg *Message, emitter *progress.Emitter) error {
	if len(msg.Transcripts) == 0 {
		return invalidRequest("transcripts are required")
	}
	resp, err := r.deps.Assistant.GenerateFollowupQuestions(ctx, msg.Transcripts)
	if err != nil {
		return fmt.Errorf("生成追问失败: %w", err)
	}
	emitter.Emit(progress.StageFollowupQuestions, resp)
	return nil
}

func (r *Router) askQuestion(ctx context.Context, msg *Message, emitter *progress.Emitter) error {
	question := strings.TrimSpace(msg.Question)
	if question == "" {
		return invalidRequest("question is required")
	}
	resp, err := r.deps.Assistant.AnswerQuestion(ctx, question, msg.Transcripts, msg.ChatHistory)
	if err != nil {
		return fmt.Errorf("回答问题失败: %w", err)
	}
	emitter.Emit(progress.StageAnswer, resp)
	return nil
}

// rawString 兼容字符串和数字两种写法
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
