package platform

import (
	"context"
	"net"

	"github.com/oschwald/geoip2-golang"

	"geofix/internal/model"
)

// cityReader：geoip2.Reader 的最小子集
type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

// GeoIPLocator：基于本地 MaxMind City 库的 IP 粗定位（WGS84）
// 约束：精度取库内 accuracy_radius（公里）；库中无坐标时返回 NO_DATA
type GeoIPLocator struct {
	db     cityReader
	closer func() error
	ip     net.IP
}

// OpenGeoIP：打开 mmdb 文件；clientIP 为需要定位的出口地址
func OpenGeoIP(path, clientIP string) (*GeoIPLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIPLocator{db: db, closer: db.Close, ip: net.ParseIP(clientIP)}, nil
}

func (g *GeoIPLocator) Name() string { return "geoip" }

func (g *GeoIPLocator) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

func (g *GeoIPLocator) GetLocation(ctx context.Context, _ Options) (RawFix, error) {
	fix, err := g.lookup(ctx)
	observe(g.Name(), err)
	return fix, err
}

func (g *GeoIPLocator) lookup(ctx context.Context) (RawFix, error) {
	if err := ctx.Err(); err != nil {
		return RawFix{}, &Error{Code: "TIMEOUT", Message: "geoip lookup timed out"}
	}
	if g.ip == nil {
		return RawFix{}, &Error{Code: "CONFIG", Message: "geoip: client ip not configured"}
	}
	rec, err := g.db.City(g.ip)
	if err != nil {
		return RawFix{}, &Error{Code: "LOOKUP", Message: "geoip: " + err.Error()}
	}
	loc := rec.Location
	if loc.Latitude == 0 && loc.Longitude == 0 && loc.AccuracyRadius == 0 {
		return RawFix{}, &Error{Code: "NO_DATA", Message: "geoip: no location for " + g.ip.String()}
	}
	return RawFix{
		Latitude:       loc.Latitude,
		Longitude:      loc.Longitude,
		AccuracyMeters: float64(loc.AccuracyRadius) * 1000,
		CoordType:      model.WGS84,
	}, nil
}
