// 包 locerr：定位错误分类体系
// 背景：平台错误文本不稳定，统一归一化为封闭的错误种类，调用方只按 Kind 做分支
package locerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind：错误种类（封闭集合）
type Kind int

const (
	UnknownError Kind = iota
	PermissionDenied
	ServiceDisabled
	Timeout
	NetworkError
	InvalidCoordinates
	GeocodingFailed
	CacheExpired
)

// Kinds：全部错误种类
var Kinds = []Kind{UnknownError, PermissionDenied, ServiceDisabled, Timeout, NetworkError, InvalidCoordinates, GeocodingFailed, CacheExpired}

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case ServiceDisabled:
		return "SERVICE_DISABLED"
	case Timeout:
		return "TIMEOUT"
	case NetworkError:
		return "NETWORK_ERROR"
	case InvalidCoordinates:
		return "INVALID_COORDINATES"
	case GeocodingFailed:
		return "GEOCODING_FAILED"
	case CacheExpired:
		return "CACHE_EXPIRED"
	case UnknownError:
		return "UNKNOWN_ERROR"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Remediation：面向上层应用的处理建议
type Remediation string

const (
	RemedySettings Remediation = "settings"
	RemedyRetry    Remediation = "retry"
	RemedyGeneric  Remediation = "generic"
)

// Remediation：权限/服务类引导去系统设置，超时/网络类提示重试，其余统一提示
func (k Kind) Remediation() Remediation {
	switch k {
	case PermissionDenied, ServiceDisabled:
		return RemedySettings
	case Timeout, NetworkError:
		return RemedyRetry
	default:
		return RemedyGeneric
	}
}

// Error：带种类的定位错误
// 约束：Cause 仅用于诊断日志，不参与控制流；RetryAfter 由策略引擎为超时与网络类失败填充
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is：同种类即视为匹配，便于 errors.Is(err, locerr.ErrTimeout)
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New：构造错误
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Wrap：构造并携带平台原始错误
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// 各种类的哨兵值，仅用于 errors.Is 比较
var (
	ErrPermissionDenied   = New(PermissionDenied, "")
	ErrServiceDisabled    = New(ServiceDisabled, "")
	ErrTimeout            = New(Timeout, "")
	ErrNetwork            = New(NetworkError, "")
	ErrInvalidCoordinates = New(InvalidCoordinates, "")
	ErrGeocodingFailed    = New(GeocodingFailed, "")
	ErrCacheExpired       = New(CacheExpired, "")
	ErrUnknown            = New(UnknownError, "")
)

// KindOf：提取错误种类；nil 返回 false，非本包错误视为 UnknownError
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return UnknownError, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return UnknownError, true
}
