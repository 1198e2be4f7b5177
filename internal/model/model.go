// 包 model：定位结果相关的值类型，供缓存、策略引擎与 API 层共享
package model

import (
	"fmt"
	"math"
	"strings"
)

// GeoPoint：经纬度点（度）
// 约束：合法点纬度在 [-90,90]、经度在 [-180,180] 且均为有限值；由 Valid 判定
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid：判定坐标是否有限且在合法范围内
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// CoordType：坐标系标识
type CoordType string

const (
	WGS84 CoordType = "wgs84"
	GCJ02 CoordType = "gcj02"
	BD09  CoordType = "bd09"
)

// ParseCoordType：解析坐标系名称，兼容 "GCJ-02"/"gcj02ll" 等常见写法
func ParseCoordType(s string) (CoordType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "")
	v = strings.TrimSuffix(v, "ll")
	switch v {
	case "wgs84":
		return WGS84, nil
	case "gcj02", "":
		return GCJ02, nil
	case "bd09":
		return BD09, nil
	}
	return "", fmt.Errorf("unknown coordinate type %q", s)
}

// Strategy：定位策略
type Strategy int

const (
	HighAccuracy Strategy = iota
	Balanced
	LowPower
	CacheFirst
)

// Strategies：全部策略，按声明顺序
var Strategies = []Strategy{HighAccuracy, Balanced, LowPower, CacheFirst}

func (s Strategy) String() string {
	switch s {
	case HighAccuracy:
		return "highAccuracy"
	case Balanced:
		return "balanced"
	case LowPower:
		return "lowPower"
	case CacheFirst:
		return "cacheFirst"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy：大小写不敏感解析策略名；空串回退为 balanced
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "highaccuracy", "high_accuracy", "high":
		return HighAccuracy, nil
	case "balanced", "":
		return Balanced, nil
	case "lowpower", "low_power", "low":
		return LowPower, nil
	case "cachefirst", "cache_first", "cache":
		return CacheFirst, nil
	}
	return Balanced, fmt.Errorf("unknown strategy %q", s)
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// LocationFix：对外定位结果（WGS84）
// 背景：值类型，可自由复制；构造后不再修改。高度与速度仅在 Has* 为真时有意义
type LocationFix struct {
	Point             GeoPoint `json:"point"`
	AccuracyMeters    float64  `json:"accuracy_meters"`
	CapturedAtEpochMs int64    `json:"captured_at_ms"`
	Source            Strategy `json:"source"`
	Altitude          float64  `json:"altitude,omitempty"`
	HasAltitude       bool     `json:"has_altitude,omitempty"`
	Speed             float64  `json:"speed,omitempty"`
	HasSpeed          bool     `json:"has_speed,omitempty"`
}
