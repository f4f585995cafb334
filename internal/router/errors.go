package router

import (
	"context"
	"errors"

	"github.com/zoharbabin/video-exploratorium/internal/analysis"
)

var (
	// ErrAuth 缺少认证头、格式错误或会话无效
	ErrAuth = errors.New("authentication failed")
	// ErrUnsupportedAction 未知的 action
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrInvalidRequest 请求缺少必要字段
	ErrInvalidRequest = errors.New("invalid request")
)

// requestError 带有可直接返回给客户端的简短描述
type requestError struct {
	kind    error
	message string
}

func (e *requestError) Error() string { return e.message }

func (e *requestError) Is(target error) bool { return target == e.kind }

func authError(message string) error {
	return &requestError{kind: ErrAuth, message: message}
}

func invalidRequest(message string) error {
	return &requestError{kind: ErrInvalidRequest, message: message}
}

// clientMessage 返回给客户端的错误描述，详细信息只记录在服务端日志中
func clientMessage(err error) string {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.message
	case errors.Is(err, ErrUnsupportedAction):
		return "Unsupported action"
	case errors.Is(err, analysis.ErrNoResults):
		return "No analysis results found"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return "Internal server error"
	}
}
