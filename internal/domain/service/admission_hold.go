package service

import (
	"context"
	"strings"
)

type admissionHoldKey struct{}

// WithAdmissionHold 标记本次请求在准入窗口中的占位 ID。
// IsAdmissible 用它登记预估额度，Record 只确认同一 ID 的占位。
func WithAdmissionHold(ctx context.Context, holdID string) context.Context {
	id := strings.TrimSpace(holdID)
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, admissionHoldKey{}, id)
}

// AdmissionHoldFromContext 未标记时返回空串
func AdmissionHoldFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(admissionHoldKey{}).(string)
	return id
}
