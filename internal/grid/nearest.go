package grid

import (
	"math"
)

// Cell is the grid cell chosen for a query point.
type Cell struct {
	Y int `json:"y"`
	X int `json:"x"`
	// Lat and Lon are the geographic coordinates of the cell centre.
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	// DistanceKm is the great-circle distance from the query point.
	DistanceKm float64 `json:"distance_km"`
}

// Nearest returns the index of the value in axis closest to v. Ties resolve
// to the lower index. It returns -1 for an empty axis.
func Nearest(axis []float64, v float64) int {
	best, bestDist := -1, math.Inf(1)
	for i, a := range axis {
		d := math.Abs(a - v)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// NormalizeLon brings lon into the convention used by axis: 0..360 when any
// axis value exceeds 180, otherwise -180..180.
func NormalizeLon(axis []float64, lon float64) float64 {
	wide := false
	for _, a := range axis {
		if a > 180 {
			wide = true
			break
		}
	}
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	if !wide && lon > 180 {
		lon -= 360
	}
	return lon
}

// NearestCell selects the cell of f closest to the geographic point. On a
// rotated grid the point is first moved into the rotated frame. Selection is
// per axis, which is the Euclidean minimum in coordinate space on a
// rectilinear grid.
func (f *Field) NearestCell(lat, lon float64) (Cell, error) {
	if !f.Spatial() {
		return Cell{}, ErrNoCells
	}
	ys, xs := f.YAxis().Values, f.XAxis().Values

	qy, qx := lat, lon
	if f.Pole != nil {
		qy, qx = f.Pole.Rotate(lat, lon)
	}
	qx = NormalizeLon(xs, qx)

	c := Cell{Y: Nearest(ys, qy), X: Nearest(xs, qx)}
	c.Lat, c.Lon = ys[c.Y], xs[c.X]
	if f.Pole != nil {
		c.Lat, c.Lon = f.Pole.Unrotate(c.Lat, c.Lon)
	}
	c.DistanceKm = Haversine(lat, lon, c.Lat, c.Lon)
	return c, nil
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := lat1*deg, lat2*deg
	dp := (lat2 - lat1) * deg
	dl := (lon2 - lon1) * deg
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(math.Min(1, a)))
}
