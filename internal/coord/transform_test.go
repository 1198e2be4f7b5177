package coord

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"geofix/internal/model"
)

func TestPassthroughOutsideChina(t *testing.T) {
	points := []model.GeoPoint{
		{Latitude: 40.7128, Longitude: -74.0060},  // New York
		{Latitude: 51.5074, Longitude: -0.1278},   // London
		{Latitude: -33.8688, Longitude: 151.2093}, // Sydney
		{Latitude: 35.6762, Longitude: 139.6503},  // Tokyo, east of the box
		{Latitude: 0.5, Longitude: 110},           // south of the box
	}
	for _, p := range points {
		assert.True(t, OutOfChina(p.Latitude, p.Longitude))
		assert.Equal(t, p, WGS84ToGCJ02(p.Latitude, p.Longitude))
		assert.Equal(t, p, GCJ02ToWGS84(p.Latitude, p.Longitude))
	}
}

func TestRoundTripWithinBound(t *testing.T) {
	// 留出边距：正向偏移可能把框边缘的点推出框外
	for lat := 1.0; lat <= 55.5; lat += 0.75 {
		for lng := 72.5; lng <= 137.5; lng += 0.85 {
			g := WGS84ToGCJ02(lat, lng)
			w := GCJ02ToWGS84(g.Latitude, g.Longitude)
			if d := math.Abs(w.Latitude - lat); d >= 1e-4 {
				t.Fatalf("lat residual %g at (%f,%f)", d, lat, lng)
			}
			if d := math.Abs(w.Longitude - lng); d >= 1e-4 {
				t.Fatalf("lng residual %g at (%f,%f)", d, lat, lng)
			}
		}
	}
}

func TestForwardShiftIsNonTrivialInsideChina(t *testing.T) {
	g := WGS84ToGCJ02(39.90734, 116.39124)
	assert.InDelta(t, 39.90734+0.0014, g.Latitude, 0.0008)
	assert.InDelta(t, 116.39124+0.0062, g.Longitude, 0.0008)
}

func TestNonFiniteInputPassesThrough(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)

	p := WGS84ToGCJ02(nan, 116)
	assert.True(t, math.IsNaN(p.Latitude))
	assert.Equal(t, 116.0, p.Longitude)

	p = GCJ02ToWGS84(39.9, inf)
	assert.Equal(t, 39.9, p.Latitude)
	assert.True(t, math.IsInf(p.Longitude, 1))

	p = BD09ToWGS84(nan, nan)
	assert.True(t, math.IsNaN(p.Latitude))
}

func TestBD09RoundTrip(t *testing.T) {
	gcj := model.GeoPoint{Latitude: 31.2304, Longitude: 121.4737}
	bd := GCJ02ToBD09(gcj.Latitude, gcj.Longitude)
	assert.InDelta(t, gcj.Latitude+0.006, bd.Latitude, 0.002)
	assert.InDelta(t, gcj.Longitude+0.0065, bd.Longitude, 0.002)

	back := BD09ToGCJ02(bd.Latitude, bd.Longitude)
	assert.InDelta(t, gcj.Latitude, back.Latitude, 1e-5)
	assert.InDelta(t, gcj.Longitude, back.Longitude, 1e-5)
}

func TestConvert(t *testing.T) {
	p := model.GeoPoint{Latitude: 39.9042, Longitude: 116.4074}
	assert.Equal(t, p, Convert(p, model.GCJ02, model.GCJ02))
	assert.Equal(t, GCJ02ToWGS84(p.Latitude, p.Longitude), Convert(p, model.GCJ02, model.WGS84))
	assert.Equal(t, WGS84ToGCJ02(p.Latitude, p.Longitude), Convert(p, model.WGS84, model.GCJ02))
	assert.Equal(t, p, ToWGS84(p, model.WGS84))

	bd := Convert(p, model.WGS84, model.BD09)
	w := Convert(bd, model.BD09, model.WGS84)
	assert.InDelta(t, p.Latitude, w.Latitude, 1e-4)
	assert.InDelta(t, p.Longitude, w.Longitude, 1e-4)
}

func TestHaversineMeters(t *testing.T) {
	nyc := model.GeoPoint{Latitude: 40.7128, Longitude: -74.0060}
	london := model.GeoPoint{Latitude: 51.5074, Longitude: -0.1278}
	assert.InDelta(t, 5570000, HaversineMeters(nyc, london), 20000)
	assert.Zero(t, HaversineMeters(nyc, nyc))
}
