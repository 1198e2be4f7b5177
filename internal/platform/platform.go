// 包 platform：定位核心与宿主平台之间的协作契约，以及若干具体适配器
// 背景：设备侧定位、授权弹窗、系统设置跳转都在进程外完成；核心只依赖这里的接口
// 约束：适配器失败一律返回 *Error（Code + Message），只有 locerr 分类器解读其文本
package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"geofix/internal/metrics"
	"geofix/internal/model"
)

// Power：功耗档位提示，供路由与设备侧选择定位源
type Power int

const (
	PowerBalanced Power = iota
	PowerHigh
	PowerLow
)

func (p Power) String() string {
	switch p {
	case PowerHigh:
		return "high"
	case PowerLow:
		return "low"
	}
	return "balanced"
}

func (p Power) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Power) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "high":
		*p = PowerHigh
	case "low":
		*p = PowerLow
	case "balanced", "":
		*p = PowerBalanced
	default:
		return fmt.Errorf("unknown power %q", string(b))
	}
	return nil
}

// Options：单次定位请求参数
type Options struct {
	CoordType          model.CoordType `json:"coord_type"`
	WantAltitude       bool            `json:"want_altitude"`
	HighAccuracyExpire time.Duration   `json:"high_accuracy_expire"`
	Power              Power           `json:"power"`
}

// RawFix：平台返回的原始定位；CoordType 为空时按 GCJ02 处理
type RawFix struct {
	Latitude           float64         `json:"latitude"`
	Longitude          float64         `json:"longitude"`
	AccuracyMeters     float64         `json:"accuracy"`
	Altitude           float64         `json:"altitude,omitempty"`
	HasAltitude        bool            `json:"has_altitude,omitempty"`
	Speed              float64         `json:"speed,omitempty"`
	HasSpeed           bool            `json:"has_speed,omitempty"`
	VerticalAccuracy   float64         `json:"vertical_accuracy,omitempty"`
	HorizontalAccuracy float64         `json:"horizontal_accuracy,omitempty"`
	CoordType          model.CoordType `json:"coord_type,omitempty"`
}

// LocationProvider：一次性定位能力
type LocationProvider interface {
	GetLocation(ctx context.Context, opts Options) (RawFix, error)
}

// ProviderFunc：函数适配为 LocationProvider
type ProviderFunc func(ctx context.Context, opts Options) (RawFix, error)

func (f ProviderFunc) GetLocation(ctx context.Context, opts Options) (RawFix, error) {
	return f(ctx, opts)
}

// AuthState：平台授权状态原始值
type AuthState int

const (
	AuthNotDetermined AuthState = iota
	AuthAuthorized
	AuthDenied
	AuthRestricted
)

func (s AuthState) String() string {
	switch s {
	case AuthAuthorized:
		return "authorized"
	case AuthDenied:
		return "denied"
	case AuthRestricted:
		return "restricted"
	}
	return "not_determined"
}

// ParseAuthState：未知文本视为 not_determined
func ParseAuthState(s string) AuthState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "authorized", "granted", "true":
		return AuthAuthorized
	case "denied", "false":
		return AuthDenied
	case "restricted":
		return AuthRestricted
	}
	return AuthNotDetermined
}

// PermissionAPI：授权查询、授权弹窗、设置页跳转与确认对话框
type PermissionAPI interface {
	AuthorizationState(ctx context.Context) (AuthState, error)
	RequestAuthorization(ctx context.Context) error
	OpenAppSettings(ctx context.Context) error
	ConfirmDialog(ctx context.Context, title, body string) (bool, error)
}

// Error：平台失败
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Named：可选接口，提供指标与日志中的提供方名称
type Named interface{ Name() string }

// NameOf：未实现 Named 的提供方记为 "provider"
func NameOf(p any) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "provider"
}

func observe(name string, err error) {
	status := "ok"
	if err != nil {
		status = "fail"
	}
	metrics.ProviderCallsTotal.WithLabelValues(name, status).Inc()
}

// StaticPermission：无设备桥接时使用的固定授权状态（如纯 IP 粗定位部署）
// 约束：不支持弹窗与设置跳转，两者都返回错误
type StaticPermission struct {
	State AuthState
}

func (s StaticPermission) AuthorizationState(context.Context) (AuthState, error) { return s.State, nil }

func (s StaticPermission) RequestAuthorization(context.Context) error {
	if s.State == AuthAuthorized {
		return nil
	}
	return &Error{Code: "STATIC", Message: "authorization prompt unavailable: permission denied by configuration"}
}

func (s StaticPermission) OpenAppSettings(context.Context) error {
	return &Error{Code: "STATIC", Message: "settings unavailable without a device bridge"}
}

func (s StaticPermission) ConfirmDialog(context.Context, string, string) (bool, error) {
	return false, nil
}
