// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"
	CodeInvalidConfig      ErrorCode = "1009"

	// 编排错误 (41xx)
	CodeNoProviderConfigured  ErrorCode = "4101"
	CodeAllProvidersSaturated ErrorCode = "4102"
	CodeProviderCallFailed    ErrorCode = "4103"
	CodeUsageLoggingFailed    ErrorCode = "4104"
	CodeUnknownContentType    ErrorCode = "4105"

	// 外部服务错误 (5xxx)
	CodeDatabaseError ErrorCode = "5001"
	CodeCacheError    ErrorCode = "5002"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口。
// 未包装底层错误时只返回 Message，调用方可以原样展示给用户。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，支持 errors.Is(err, ErrNoProviderConfigured)
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 返回带详细信息的副本（预定义错误不会被修改）
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回包装了底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeUnknownContentType:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTooManyRequests, CodeAllProvidersSaturated:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodeNoProviderConfigured:
		return http.StatusServiceUnavailable
	case CodeProviderCallFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")
	ErrInvalidConfig      = New(CodeInvalidConfig, "invalid configuration")

	ErrNoProviderConfigured  = New(CodeNoProviderConfigured, "No available AI providers configured")
	ErrAllProvidersSaturated = New(CodeAllProvidersSaturated, "all AI providers are saturated")
	ErrProviderCallFailed    = New(CodeProviderCallFailed, "AI provider call failed")
	ErrUsageLoggingFailed    = New(CodeUsageLoggingFailed, "usage logging failed")
	ErrUnknownContentType    = New(CodeUnknownContentType, "unknown content type")

	ErrDatabaseError = New(CodeDatabaseError, "database error")
	ErrCacheError    = New(CodeCacheError, "cache error")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// Is 透传标准库 errors.Is，避免调用方同时引入两个 errors 包
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
