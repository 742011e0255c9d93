package grid

import (
	"math"
	"testing"
)

func TestRotatedPoleIdentity(t *testing.T) {
	p := RotatedPole{Lat: 90, Lon: -180}
	for _, pt := range [][2]float64{{0, 0}, {-1.29, 36.82}, {45, -120}, {-60, 170}} {
		rlat, rlon := p.Rotate(pt[0], pt[1])
		if math.Abs(rlat-pt[0]) > 1e-9 || math.Abs(rlon-pt[1]) > 1e-9 {
			t.Errorf("Rotate(%v) = (%v, %v), want unchanged", pt, rlat, rlon)
		}
	}
}

func TestRotatedPoleEURCordex(t *testing.T) {
	p := RotatedPole{Lat: 39.25, Lon: -162}
	rlat, rlon := p.Rotate(50, 10)
	if math.Abs(rlat-(-0.4724)) > 1e-3 || math.Abs(rlon-(-5.1326)) > 1e-3 {
		t.Errorf("Rotate(50, 10) = (%.4f, %.4f), want (-0.4724, -5.1326)", rlat, rlon)
	}
}

func TestRotatedPoleRoundTrip(t *testing.T) {
	poles := []RotatedPole{{39.25, -162}, {-0.5, -180 + 17.5}, {77, 140}}
	for _, p := range poles {
		for lat := -80.0; lat <= 80; lat += 20 {
			for lon := -170.0; lon <= 170; lon += 34 {
				rlat, rlon := p.Rotate(lat, lon)
				glat, glon := p.Unrotate(rlat, rlon)
				if math.Abs(glat-lat) > 1e-6 || math.Abs(math.Remainder(glon-lon, 360)) > 1e-6 {
					t.Fatalf("pole %v: (%v, %v) -> (%v, %v) -> (%v, %v)", p, lat, lon, rlat, rlon, glat, glon)
				}
			}
		}
	}
}
