package locerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMessage(t *testing.T) {
	cases := []struct {
		msg  string
		kind Kind
	}{
		{"getLocation:fail auth deny", PermissionDenied},
		{"Permission denied by user", PermissionDenied},
		{"PERMISSION_DENIED", PermissionDenied},
		{"app is not authorized to use location", PermissionDenied},
		{"Authorization failed", PermissionDenied},
		{"用户拒绝授权", PermissionDenied},
		{"缺少定位权限", PermissionDenied},
		{"Location service is unavailable", ServiceDisabled},
		{"GPS disabled", ServiceDisabled},
		{"system gps off", ServiceDisabled},
		{"定位服务未开启", ServiceDisabled},
		{"getLocation:fail timeout", Timeout},
		{"request timed out", Timeout},
		{"context deadline exceeded", Timeout},
		{"定位超时", Timeout},
		{"Network is unreachable", NetworkError},
		{"device offline", NetworkError},
		{"connection reset by peer", NetworkError},
		{"网络异常", NetworkError},
		{"getLocation:fail system error 2004", UnknownError},
		{"", UnknownError},
	}
	for _, c := range cases {
		t.Run(c.msg, func(t *testing.T) {
			got := ClassifyMessage(c.msg)
			require.NotNil(t, got)
			assert.Equal(t, c.kind, got.Kind)
			assert.Equal(t, c.msg, got.Message)
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	// 同时出现多个关键字时按优先级取最高者
	assert.Equal(t, PermissionDenied, ClassifyMessage("location service permission denied").Kind)
	assert.Equal(t, ServiceDisabled, ClassifyMessage("service timeout").Kind)
	assert.Equal(t, Timeout, ClassifyMessage("network timeout").Kind)
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, Classify(nil))

	typed := New(InvalidCoordinates, "lat 91")
	assert.Same(t, typed, Classify(fmt.Errorf("wrapped: %w", typed)))

	raw := errors.New("Network down")
	got := Classify(raw)
	assert.Equal(t, NetworkError, got.Kind)
	assert.ErrorIs(t, got, raw)

	got = Classify(context.DeadlineExceeded)
	assert.Equal(t, Timeout, got.Kind)
}

func TestErrorIsByKind(t *testing.T) {
	err := fmt.Errorf("acquire: %w", New(Timeout, "after 10s"))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrNetwork)

	k, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, Timeout, k)

	k, ok = KindOf(errors.New("plain"))
	assert.True(t, ok)
	assert.Equal(t, UnknownError, k)

	_, ok = KindOf(nil)
	assert.False(t, ok)
}

func TestRemediation(t *testing.T) {
	want := map[Kind]Remediation{
		PermissionDenied:   RemedySettings,
		ServiceDisabled:    RemedySettings,
		Timeout:            RemedyRetry,
		NetworkError:       RemedyRetry,
		InvalidCoordinates: RemedyGeneric,
		GeocodingFailed:    RemedyGeneric,
		CacheExpired:       RemedyGeneric,
		UnknownError:       RemedyGeneric,
	}
	for _, k := range Kinds {
		assert.Equal(t, want[k], k.Remediation(), k.String())
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "TIMEOUT", New(Timeout, "").Error())
	assert.Equal(t, "UNKNOWN_ERROR: boom", New(UnknownError, "boom").Error())
}
