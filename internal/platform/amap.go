package platform

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"geofix/internal/coord"
	"geofix/internal/logger"
	"geofix/internal/model"
)

const DefaultAMapBaseURL = "https://restapi.amap.com/v3/ip"

// amapText：高德在无数据时将字符串字段返回为 []，此处统一折叠为空串
type amapText string

func (t *amapText) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = amapText(s)
		return nil
	}
	*t = ""
	return nil
}

// 文档注释：高德 IP 定位响应结构
// 约束：仅解析定位需要的字段；rectangle 为 GCJ02 坐标的城市外接矩形 "lng1,lat1;lng2,lat2"
type amapIPResponse struct {
	Status    amapText `json:"status"`
	Info      amapText `json:"info"`
	Infocode  amapText `json:"infocode"`
	Province  amapText `json:"province"`
	City      amapText `json:"city"`
	Rectangle amapText `json:"rectangle"`
}

// 文档注释：高德 IP 粗定位
// 背景：低功耗策略下无需唤醒卫星定位，城市级精度即可；返回外接矩形中心与半对角线作为精度
// 约束：仅覆盖国内 IPv4；ip 为空时由高德按请求来源定位
type AMapLocator struct {
	key     string
	ip      string
	baseURL string
	client  *http.Client
}

func NewAMapLocator(key, ip string, client *http.Client) *AMapLocator {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &AMapLocator{key: key, ip: ip, baseURL: DefaultAMapBaseURL, client: client}
}

// WithBaseURL：替换接口地址（测试或私有代理）
func (a *AMapLocator) WithBaseURL(u string) *AMapLocator {
	a.baseURL = u
	return a
}

func (a *AMapLocator) Name() string { return "amap" }

func (a *AMapLocator) GetLocation(ctx context.Context, _ Options) (RawFix, error) {
	fix, err := a.query(ctx)
	observe(a.Name(), err)
	return fix, err
}

func (a *AMapLocator) query(ctx context.Context) (RawFix, error) {
	if a.key == "" {
		return RawFix{}, &Error{Code: "CONFIG", Message: "amap: missing server key"}
	}
	q := url.Values{}
	q.Set("key", a.key)
	if a.ip != "" {
		q.Set("ip", a.ip)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return RawFix{}, err
	}
	t0 := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return RawFix{}, &Error{Code: "TIMEOUT", Message: "amap request timed out"}
		}
		logger.L().Error("amap_http_error", "err", err)
		return RawFix{}, &Error{Code: "NETWORK", Message: "network error reaching amap: " + err.Error()}
	}
	defer resp.Body.Close()
	var r amapIPResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		logger.L().Error("amap_decode_error", "err", err)
		return RawFix{}, &Error{Code: "DECODE", Message: "amap: " + err.Error()}
	}
	logger.L().Debug("amap_resp", "status", string(r.Status), "infocode", string(r.Infocode), "city", string(r.City), "duration_ms", time.Since(t0).Milliseconds())
	if r.Status != "1" {
		return RawFix{}, &Error{Code: string(r.Infocode), Message: "amap: " + string(r.Info)}
	}
	sw, ne, err := parseRectangle(string(r.Rectangle))
	if err != nil {
		return RawFix{}, &Error{Code: "NO_DATA", Message: "amap: " + err.Error()}
	}
	center := model.GeoPoint{Latitude: (sw.Latitude + ne.Latitude) / 2, Longitude: (sw.Longitude + ne.Longitude) / 2}
	return RawFix{
		Latitude:       center.Latitude,
		Longitude:      center.Longitude,
		AccuracyMeters: math.Round(coord.HaversineMeters(sw, ne) / 2),
		CoordType:      model.GCJ02,
	}, nil
}

// parseRectangle：解析 "lng1,lat1;lng2,lat2"
func parseRectangle(s string) (model.GeoPoint, model.GeoPoint, error) {
	parts := strings.Split(strings.TrimSpace(s), ";")
	if len(parts) != 2 {
		return model.GeoPoint{}, model.GeoPoint{}, errors.New("no rectangle for ip")
	}
	var pts [2]model.GeoPoint
	for i, p := range parts {
		xy := strings.Split(p, ",")
		if len(xy) != 2 {
			return model.GeoPoint{}, model.GeoPoint{}, errors.New("malformed rectangle " + s)
		}
		lng, err1 := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		lat, err2 := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err1 != nil || err2 != nil {
			return model.GeoPoint{}, model.GeoPoint{}, errors.New("malformed rectangle " + s)
		}
		pts[i] = model.GeoPoint{Latitude: lat, Longitude: lng}
	}
	return pts[0], pts[1], nil
}
