package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across toolport.
type ErrorCode string

// Error codes. Each code doubles as a sentinel for errors.Is.
const (
	// ErrConfig 配置格式错误或存在歧义，在启动任何传输之前返回
	ErrConfig ErrorCode = "CONFIG_ERROR"
	// ErrUnknownServer 引用了未配置的服务名
	ErrUnknownServer ErrorCode = "UNKNOWN_SERVER"
	// ErrUnknownTool 服务未声明该工具
	ErrUnknownTool ErrorCode = "UNKNOWN_TOOL"
	// ErrSessionNotEstablished 会话型服务尚未完成握手
	ErrSessionNotEstablished ErrorCode = "SESSION_NOT_ESTABLISHED"
	// ErrTransport 后端进程或连接失败、崩溃或返回无法解析的帧
	ErrTransport ErrorCode = "TRANSPORT_ERROR"
)

// Error implements the error interface so a bare code can be used as an
// errors.Is target.
func (c ErrorCode) Error() string {
	return string(c)
}

// Error represents a structured error with code, message, and the server/tool
// it concerns.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Server    string    `json:"server,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is this error's code, or an *Error carrying the
// same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *Error:
		return t != nil && e.Code == t.Code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithServer sets the server name.
func (e *Error) WithServer(server string) *Error {
	e.Server = server
	return e
}

// WithTool sets the tool name.
func (e *Error) WithTool(tool string) *Error {
	e.Tool = tool
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewConfigError reports malformed or ambiguous configuration.
func NewConfigError(format string, args ...any) *Error {
	return NewError(ErrConfig, fmt.Sprintf(format, args...))
}

// NewUnknownServerError reports a server name that is not bound.
func NewUnknownServerError(server string) *Error {
	return NewError(ErrUnknownServer, fmt.Sprintf("unknown server %q", server)).WithServer(server)
}

// NewUnknownToolError reports a tool the server does not advertise.
func NewUnknownToolError(server, tool string) *Error {
	return NewError(ErrUnknownTool, fmt.Sprintf("server %q has no tool %q", server, tool)).
		WithServer(server).
		WithTool(tool)
}

// NewSessionNotEstablishedError reports a call on a session-scoped server
// before its handshake succeeded.
func NewSessionNotEstablishedError(server, tool string) *Error {
	return NewError(ErrSessionNotEstablished,
		fmt.Sprintf("server %q requires a session; call its handshake tool before %q", server, tool)).
		WithServer(server).
		WithTool(tool)
}

// NewTransportError wraps a failure of the backing process or connection.
func NewTransportError(server string, cause error) *Error {
	return NewError(ErrTransport, fmt.Sprintf("server %q transport failed", server)).
		WithServer(server).
		WithCause(cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return errors.Is(err, code)
}
