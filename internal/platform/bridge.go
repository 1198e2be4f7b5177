package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"geofix/internal/logger"
)

// 文档注释：设备桥接适配器
// 背景：宿主设备（移动端 / 车机 / 网关）以一个本地 HTTP 服务暴露定位与授权能力，本适配器是其客户端
// 约束：契约为 /health、POST /location、GET /permission、POST /permission/request、
// POST /settings/open、POST /dialog/confirm；非 2xx 响应体为 {code,message}，解码为 *Error
type Bridge struct {
	endpoint string
	client   *http.Client
}

// NewBridge：client 为空时使用无整体超时的客户端，超时由调用方 ctx 决定
func NewBridge(endpoint string, client *http.Client) *Bridge {
	if client == nil {
		client = &http.Client{}
	}
	return &Bridge{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (b *Bridge) Name() string { return "bridge" }

// Heartbeat：访问 /health；非 200 视为不可用
func (b *Bridge) Heartbeat(ctx context.Context) error {
	resp, err := b.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// bridgeFix：/location 响应；经纬度用指针记录是否出现，缺失时不能当作 (0,0)
type bridgeFix struct {
	RawFix
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (b *Bridge) GetLocation(ctx context.Context, opts Options) (RawFix, error) {
	t0 := time.Now()
	fix, err := b.location(ctx, opts)
	observe(b.Name(), err)
	logger.L().Debug("bridge_location", "power", opts.Power.String(), "duration_ms", time.Since(t0).Milliseconds(), "err", err)
	return fix, err
}

func (b *Bridge) location(ctx context.Context, opts Options) (RawFix, error) {
	var w bridgeFix
	if err := b.call(ctx, http.MethodPost, "/location", opts, &w); err != nil {
		return RawFix{}, err
	}
	if w.Latitude == nil || w.Longitude == nil {
		return RawFix{}, &Error{Code: "NO_DATA", Message: "bridge returned a fix without latitude/longitude"}
	}
	fix := w.RawFix
	fix.Latitude, fix.Longitude = *w.Latitude, *w.Longitude
	return fix, nil
}

func (b *Bridge) AuthorizationState(ctx context.Context) (AuthState, error) {
	var out struct {
		State string `json:"state"`
	}
	if err := b.call(ctx, http.MethodGet, "/permission", nil, &out); err != nil {
		return AuthNotDetermined, err
	}
	return ParseAuthState(out.State), nil
}

func (b *Bridge) RequestAuthorization(ctx context.Context) error {
	return b.call(ctx, http.MethodPost, "/permission/request", nil, nil)
}

func (b *Bridge) OpenAppSettings(ctx context.Context) error {
	return b.call(ctx, http.MethodPost, "/settings/open", nil, nil)
}

func (b *Bridge) ConfirmDialog(ctx context.Context, title, body string) (bool, error) {
	in := map[string]string{"title": title, "body": body}
	var out struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := b.call(ctx, http.MethodPost, "/dialog/confirm", in, &out); err != nil {
		return false, err
	}
	return out.Confirmed, nil
}

func (b *Bridge) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	resp, err := b.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Code: "DECODE", Message: "bridge response decode failed: " + err.Error()}
	}
	return nil
}

func (b *Bridge) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Code: "TIMEOUT", Message: "bridge request timed out: " + ctx.Err().Error()}
		}
		return nil, &Error{Code: "NETWORK", Message: "network error reaching device bridge: " + err.Error()}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	var pe Error
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &pe) != nil || pe.Message == "" {
		pe = Error{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: strings.TrimSpace(string(raw))}
		if pe.Message == "" {
			pe.Message = http.StatusText(resp.StatusCode)
		}
	}
	return nil, &pe
}
