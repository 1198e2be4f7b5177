// 包 coord：WGS84 / GCJ-02 / BD-09 坐标转换
// 背景：国内定位平台返回 GCJ-02 偏移坐标，对外统一输出 WGS84；转换为纯函数，无共享状态，可并发调用
package coord

import (
	"math"

	"geofix/internal/model"
)

const (
	// 克拉索夫斯基椭球参数
	semiMajor    = 6378245.0
	eccentricity = 0.00669342162296594323

	bdFactor = math.Pi * 3000.0 / 180.0
)

// OutOfChina：中国大陆外包框判定；框外不做偏移
func OutOfChina(lat, lng float64) bool {
	return lng < 72.004 || lng > 137.8347 || lat < 0.8293 || lat > 55.8271
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// passthrough：非有限值或框外时原样返回
func passthrough(lat, lng float64) bool {
	if !finite(lat) || !finite(lng) {
		return true
	}
	return OutOfChina(lat, lng)
}

// WGS84ToGCJ02：WGS84 → GCJ-02
// 约束：框外或非有限输入原样返回；不返回错误
func WGS84ToGCJ02(lat, lng float64) model.GeoPoint {
	if passthrough(lat, lng) {
		return model.GeoPoint{Latitude: lat, Longitude: lng}
	}
	dLat, dLng := delta(lat, lng)
	return model.GeoPoint{Latitude: lat + dLat, Longitude: lng + dLng}
}

// GCJ02ToWGS84：GCJ-02 → WGS84
// 约束：一阶近似反解（减去同一偏移量），往返残差小于 1e-4 度；保持与历史坐标一致，不做迭代求解
func GCJ02ToWGS84(lat, lng float64) model.GeoPoint {
	if passthrough(lat, lng) {
		return model.GeoPoint{Latitude: lat, Longitude: lng}
	}
	dLat, dLng := delta(lat, lng)
	return model.GeoPoint{Latitude: lat - dLat, Longitude: lng - dLng}
}

// BD09ToGCJ02：百度 BD-09 → GCJ-02
func BD09ToGCJ02(lat, lng float64) model.GeoPoint {
	if !finite(lat) || !finite(lng) {
		return model.GeoPoint{Latitude: lat, Longitude: lng}
	}
	x := lng - 0.0065
	y := lat - 0.006
	z := math.Sqrt(x*x+y*y) - 0.00002*math.Sin(y*bdFactor)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*bdFactor)
	return model.GeoPoint{Latitude: z * math.Sin(theta), Longitude: z * math.Cos(theta)}
}

// BD09ToWGS84：BD-09 → GCJ-02 → WGS84
func BD09ToWGS84(lat, lng float64) model.GeoPoint {
	g := BD09ToGCJ02(lat, lng)
	return GCJ02ToWGS84(g.Latitude, g.Longitude)
}

// ToWGS84：按来源坐标系转换到 WGS84；未知坐标系按 GCJ-02 处理（平台默认输出）
func ToWGS84(p model.GeoPoint, from model.CoordType) model.GeoPoint {
	switch from {
	case model.WGS84:
		return p
	case model.BD09:
		return BD09ToWGS84(p.Latitude, p.Longitude)
	default:
		return GCJ02ToWGS84(p.Latitude, p.Longitude)
	}
}

// GCJ02ToBD09：GCJ-02 → 百度 BD-09
func GCJ02ToBD09(lat, lng float64) model.GeoPoint {
	if !finite(lat) || !finite(lng) {
		return model.GeoPoint{Latitude: lat, Longitude: lng}
	}
	z := math.Sqrt(lng*lng+lat*lat) + 0.00002*math.Sin(lat*bdFactor)
	theta := math.Atan2(lat, lng) + 0.000003*math.Cos(lng*bdFactor)
	return model.GeoPoint{Latitude: z*math.Sin(theta) + 0.006, Longitude: z*math.Cos(theta) + 0.0065}
}

// Convert：任意两种坐标系之间转换，统一经由 WGS84 中转
func Convert(p model.GeoPoint, from, to model.CoordType) model.GeoPoint {
	if from == to {
		return p
	}
	w := ToWGS84(p, from)
	switch to {
	case model.GCJ02:
		return WGS84ToGCJ02(w.Latitude, w.Longitude)
	case model.BD09:
		g := WGS84ToGCJ02(w.Latitude, w.Longitude)
		return GCJ02ToBD09(g.Latitude, g.Longitude)
	}
	return w
}

func delta(lat, lng float64) (float64, float64) {
	dLat := transformLat(lng-105.0, lat-35.0)
	dLng := transformLng(lng-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - eccentricity*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((semiMajor * (1 - eccentricity)) / (magic * sqrtMagic) * math.Pi)
	dLng = (dLng * 180.0) / (semiMajor / sqrtMagic * math.Cos(radLat) * math.Pi)
	return dLat, dLng
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLng(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
