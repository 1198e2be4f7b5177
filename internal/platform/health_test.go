package platform

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Heartbeat(ctx context.Context) error { return f(ctx) }

func TestMonitorMarksUnhealthyAndRecovers(t *testing.T) {
	var fail atomic.Bool
	m := NewMonitor(time.Hour)
	m.Register("bridge", pingFunc(func(context.Context) error {
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	}))
	assert.True(t, m.Healthy("bridge"))
	assert.True(t, m.Healthy("unknown"))

	fail.Store(true)
	m.Beat(context.Background())
	assert.False(t, m.Healthy("bridge"))

	fail.Store(false)
	m.Beat(context.Background())
	assert.True(t, m.Healthy("bridge"))
}

func TestGuardFailsFastWhenUnhealthy(t *testing.T) {
	m := NewMonitor(time.Hour)
	m.Register("bridge", pingFunc(func(context.Context) error { return errors.New("down") }))
	calls := 0
	p := m.Guard("bridge", ProviderFunc(func(context.Context, Options) (RawFix, error) {
		calls++
		return RawFix{Latitude: 1}, nil
	}))
	assert.Equal(t, "bridge", NameOf(p))

	_, err := p.GetLocation(context.Background(), Options{})
	require.NoError(t, err)

	m.Beat(context.Background())
	_, err = p.GetLocation(context.Background(), Options{})
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "UNHEALTHY", pe.Code)
	assert.Equal(t, 1, calls)

	// 链式回退会跳过不健康的提供方
	fallback := ProviderFunc(func(context.Context, Options) (RawFix, error) { return RawFix{Latitude: 2}, nil })
	fix, err := NewChain(p, fallback).GetLocation(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, fix.Latitude)
}

func TestMonitorWithBridgeHeartbeat(t *testing.T) {
	var down atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	b := newBridgeServer(t, mux)
	m := NewMonitor(20 * time.Millisecond)
	m.Register(b.Name(), b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	down.Store(true)
	assert.Eventually(t, func() bool { return !m.Healthy("bridge") }, time.Second, 10*time.Millisecond)
	down.Store(false)
	assert.Eventually(t, func() bool { return m.Healthy("bridge") }, time.Second, 10*time.Millisecond)
}
