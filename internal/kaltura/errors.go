package kaltura

import "fmt"

// 客户端侧错误码
const (
	ErrCodeInvalidXML     = "INVALID_XML"
	ErrCodeResultNotFound = "RESULT_NOT_FOUND"
	ErrCodeHTTP           = "HTTP_ERROR"
	ErrCodeInvalidJSON    = "INVALID_JSON"
)

// ErrCodeInvalidKS 会话无效或已过期
const ErrCodeInvalidKS = "INVALID_KS"

// APIError Kaltura 服务端在 <result><error> 中返回的错误
type APIError struct {
	Code       string
	Message    string
	ObjectType string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kaltura api error %s: %s", e.Code, e.Message)
}

// ClientError 请求或响应解析阶段的错误
type ClientError struct {
	Code    string
	Message string
	Err     error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kaltura client error %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("kaltura client error %s: %s", e.Code, e.Message)
}

func (e *ClientError) Unwrap() error { return e.Err }
