package locerr

import (
	"errors"
	"strings"
)

// 关键字表：按优先级排列，先命中者生效
// 背景：厂商错误文本会随系统版本变化，视为不稳定契约；新增文案只需补充关键字与用例
var rules = []struct {
	kind     Kind
	keywords []string
}{
	{PermissionDenied, []string{"permission", "denied", "unauthorized", "not authorized", "auth deny", "authoriz", "权限", "拒绝", "未授权"}},
	{ServiceDisabled, []string{"service", "disabled", "location off", "gps off", "定位服务", "未开启", "已关闭"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded", "超时"}},
	{NetworkError, []string{"network", "offline", "connection", "unreachable", "no route", "网络"}},
}

// ClassifyMessage：按关键字将平台错误文本归类（大小写不敏感）
// 返回：始终非 nil；未识别时为 UnknownError 并原样保留文本
func ClassifyMessage(msg string) *Error {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return &Error{Kind: r.kind, Message: msg}
			}
		}
	}
	return &Error{Kind: UnknownError, Message: msg}
}

// Classify：归一化任意平台错误
// 约束：已是 *Error 的直接透传；nil 返回 nil；原始错误挂在 Cause 上
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	out := ClassifyMessage(err.Error())
	out.Cause = err
	return out
}
