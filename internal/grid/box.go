package grid

import (
	"fmt"
	"math"
	"sort"
)

// Box is a geographic bounding box in degrees.
type Box struct {
	North float64 `yaml:"north" json:"north"`
	West  float64 `yaml:"west" json:"west"`
	South float64 `yaml:"south" json:"south"`
	East  float64 `yaml:"east" json:"east"`
}

func (b Box) Validate() error {
	if b.South > b.North {
		return fmt.Errorf("grid: box south %.2f above north %.2f", b.South, b.North)
	}
	if b.North > 90 || b.South < -90 {
		return fmt.Errorf("grid: box latitude out of range")
	}
	return nil
}

// Seam reports whether the box crosses the 0/360 meridian once longitudes
// are taken modulo 360.
func (b Box) Seam() bool {
	return mod360(b.East) < mod360(b.West)
}

// Selection lists the axis indices kept by a box, in output order, with
// the longitudes as they should be reported.
type Selection struct {
	Y    []int
	X    []int
	Lats []float64
	Lons []float64
}

// Select applies the box to 1-D latitude and longitude axes. Longitudes are
// compared modulo 360. When the box crosses the seam the kept longitudes are
// remapped to -180..180 and sorted.
func (b Box) Select(lats, lons []float64) (Selection, error) {
	var s Selection
	for i, lat := range lats {
		if lat >= b.South && lat <= b.North {
			s.Y = append(s.Y, i)
			s.Lats = append(s.Lats, lat)
		}
	}

	lon1, lon2 := mod360(b.West), mod360(b.East)
	seam := lon2 < lon1
	for i, lon := range lons {
		l := mod360(lon)
		keep := l >= lon1 && l <= lon2
		if seam {
			keep = l <= lon2 || l >= lon1
		}
		if !keep {
			continue
		}
		if seam {
			l = math.Mod(l+180, 360) - 180
		} else {
			l = lon
		}
		s.X = append(s.X, i)
		s.Lons = append(s.Lons, l)
	}
	if seam {
		sort.Sort(byLon{&s})
	}
	if len(s.Y) == 0 || len(s.X) == 0 {
		return Selection{}, ErrNoCells
	}
	return s, nil
}

func mod360(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

type byLon struct{ s *Selection }

func (b byLon) Len() int           { return len(b.s.X) }
func (b byLon) Less(i, j int) bool { return b.s.Lons[i] < b.s.Lons[j] }
func (b byLon) Swap(i, j int) {
	b.s.X[i], b.s.X[j] = b.s.X[j], b.s.X[i]
	b.s.Lons[i], b.s.Lons[j] = b.s.Lons[j], b.s.Lons[i]
}

// Subset restricts the last two (spatial) dimensions of f to the box. The
// returned field carries the remapped longitude coordinate.
func (f *Field) Subset(b Box) (*Field, error) {
	if !f.Spatial() {
		return nil, ErrNoCells
	}
	ydim, xdim := f.YAxis().Name, f.XAxis().Name
	sel, err := b.Select(f.YAxis().Values, f.XAxis().Values)
	if err != nil {
		return nil, err
	}

	nd := len(f.Shape)
	ny, nx := f.Shape[nd-2], f.Shape[nd-1]
	outer := len(f.Data) / (ny * nx)
	data := make([]float64, 0, outer*len(sel.Y)*len(sel.X))
	for o := 0; o < outer; o++ {
		base := o * ny * nx
		for _, y := range sel.Y {
			for _, x := range sel.X {
				data = append(data, f.Data[base+y*nx+x])
			}
		}
	}

	shape := append([]int(nil), f.Shape...)
	shape[nd-2], shape[nd-1] = len(sel.Y), len(sel.X)
	out, err := NewField(f.Name, f.Dims, shape, data)
	if err != nil {
		return nil, err
	}
	out.Units = f.Units
	for d, v := range f.coords {
		out.coords[d] = v
	}
	for d, v := range f.dates {
		out.dates[d] = v
	}
	out.coords[ydim] = sel.Lats
	out.coords[xdim] = sel.Lons
	return out, nil
}
