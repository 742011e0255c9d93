package grid

import "math"

// RotatedPole describes a rotated latitude/longitude frame by the position
// of its north pole in geographic coordinates (CF grid_north_pole_*).
type RotatedPole struct {
	Lat float64
	Lon float64
}

const deg = math.Pi / 180

// Rotate maps a geographic point into the rotated frame.
func (p RotatedPole) Rotate(lat, lon float64) (rlat, rlon float64) {
	plat, plon := p.Lat*deg, p.Lon*deg
	phi := lat * deg
	z := lon*deg - plon

	rlat = math.Asin(clamp(math.Cos(plat)*math.Cos(phi)*math.Cos(z) + math.Sin(plat)*math.Sin(phi)))
	rlon = math.Atan2(
		-math.Sin(z)*math.Cos(phi),
		-math.Sin(plat)*math.Cos(phi)*math.Cos(z)+math.Cos(plat)*math.Sin(phi),
	)
	return rlat / deg, rlon / deg
}

// Unrotate maps a point in the rotated frame back to geographic coordinates,
// with longitude in -180..180.
func (p RotatedPole) Unrotate(rlat, rlon float64) (lat, lon float64) {
	plat, plon := p.Lat*deg, p.Lon*deg
	rho, r := rlat*deg, rlon*deg

	lat = math.Asin(clamp(math.Sin(plat)*math.Sin(rho) + math.Cos(plat)*math.Cos(rho)*math.Cos(r)))
	common := -math.Sin(plat)*math.Cos(r)*math.Cos(rho) + math.Cos(plat)*math.Sin(rho)
	a1 := math.Sin(plon)*common - math.Cos(plon)*math.Sin(r)*math.Cos(rho)
	a2 := math.Cos(plon)*common + math.Sin(plon)*math.Sin(r)*math.Cos(rho)
	lon = math.Atan2(a1, a2)
	return lat / deg, lon / deg
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
