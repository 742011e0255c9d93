// Package grid reads gridded climate variables from NetCDF classic files and
// answers spatial questions about them: nearest cell, bounding boxes and
// rotated-pole coordinates.
package grid

import (
	"errors"
	"fmt"
)

var (
	ErrNoVariable = errors.New("grid: variable not found")
	ErrNoCells    = errors.New("grid: no grid cells selected")
)

// Axis is a named 1-D coordinate.
type Axis struct {
	Name   string
	Values []float64
}

// Len returns the number of coordinate values.
func (a *Axis) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Values)
}

// Field is a variable read into memory as float64, row-major over Dims.
// Missing values are NaN. A Field is never modified after it is built.
type Field struct {
	Name  string
	Units string
	Dims  []string
	Shape []int
	Data  []float64

	// coords holds 1-D coordinate values by dimension name, dates holds the
	// decoded calendar dates of time-like dimensions.
	coords map[string][]float64
	dates  map[string][]Date

	// Pole is set when the spatial axes are in a rotated-pole frame.
	Pole *RotatedPole
}

// NewField builds a field from already decoded values. It is used by
// readers and by derived computations.
func NewField(name string, dims []string, shape []int, data []float64) (*Field, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("grid: %s: %d dims but %d lengths", name, len(dims), len(shape))
	}
	n := 1
	for _, l := range shape {
		n *= l
	}
	if n != len(data) {
		return nil, fmt.Errorf("grid: %s: shape %v needs %d values, have %d", name, shape, n, len(data))
	}
	return &Field{
		Name:   name,
		Dims:   dims,
		Shape:  shape,
		Data:   data,
		coords: make(map[string][]float64),
		dates:  make(map[string][]Date),
	}, nil
}

// SetCoord attaches coordinate values to a dimension.
func (f *Field) SetCoord(dim string, values []float64) {
	f.coords[dim] = values
}

// SetDates attaches decoded dates to a time-like dimension.
func (f *Field) SetDates(dim string, dates []Date) {
	f.dates[dim] = dates
}

// Coord returns the coordinate values for dim, or nil.
func (f *Field) Coord(dim string) []float64 {
	return f.coords[dim]
}

// Dates returns the decoded dates for dim, or nil.
func (f *Field) Dates(dim string) []Date {
	return f.dates[dim]
}

// DimIndex returns the position of dim in Dims, or -1.
func (f *Field) DimIndex(dim string) int {
	for i, d := range f.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Len returns the length of dim, or 0 when the field does not have it.
func (f *Field) Len(dim string) int {
	i := f.DimIndex(dim)
	if i < 0 {
		return 0
	}
	return f.Shape[i]
}

// Offset converts a multi-dimensional index into a position in Data.
func (f *Field) Offset(idx ...int) int {
	off := 0
	for i, x := range idx {
		off = off*f.Shape[i] + x
	}
	return off
}

// At returns the value at idx.
func (f *Field) At(idx ...int) float64 {
	return f.Data[f.Offset(idx...)]
}

// YAxis returns the second-to-last dimension as the latitude-like axis.
func (f *Field) YAxis() *Axis {
	if len(f.Dims) < 2 {
		return nil
	}
	d := f.Dims[len(f.Dims)-2]
	return &Axis{Name: d, Values: f.coords[d]}
}

// XAxis returns the last dimension as the longitude-like axis.
func (f *Field) XAxis() *Axis {
	if len(f.Dims) < 1 {
		return nil
	}
	d := f.Dims[len(f.Dims)-1]
	return &Axis{Name: d, Values: f.coords[d]}
}

// TimeDim returns the name of the first dimension with decoded dates.
func (f *Field) TimeDim() string {
	for _, d := range f.Dims {
		if _, ok := f.dates[d]; ok {
			return d
		}
	}
	return ""
}

// Spatial reports whether the field has usable latitude and longitude axes.
func (f *Field) Spatial() bool {
	y, x := f.YAxis(), f.XAxis()
	return y.Len() > 0 && x.Len() > 0 &&
		y.Len() == f.Shape[len(f.Shape)-2] && x.Len() == f.Shape[len(f.Shape)-1]
}
