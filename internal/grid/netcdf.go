package grid

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
)

// File is an open NetCDF classic file.
type File struct {
	path string
	osf  *os.File
	nc   *cdf.File
	size int64
}

// Open opens a NetCDF classic (CDF-1 or CDF-2) file for reading.
func Open(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := osf.Stat()
	if err != nil {
		osf.Close()
		return nil, err
	}
	nc, err := cdf.Open(readOnly{osf})
	if err != nil {
		osf.Close()
		return nil, fmt.Errorf("open %s: %w (NetCDF classic format required)", path, err)
	}
	return &File{path: path, osf: osf, nc: nc, size: st.Size()}, nil
}

func (f *File) Close() error {
	return f.osf.Close()
}

func (f *File) Path() string { return f.path }

// Variables lists the variable names in the file.
func (f *File) Variables() []string {
	return f.nc.Header.Variables()
}

// Has reports whether the file defines variable name.
func (f *File) Has(name string) bool {
	return f.nc.Header.Lengths(name) != nil || contains(f.nc.Header.Variables(), name)
}

// Attr returns a string attribute of a variable, or of the file when v is
// empty.
func (f *File) Attr(v, name string) string {
	s, _ := f.nc.Header.GetAttribute(v, name).(string)
	return strings.TrimRight(s, "\x00")
}

// shape returns the lengths of v with the record dimension sized from the
// file length.
func (f *File) shape(v string) []int {
	lengths := append([]int(nil), f.nc.Header.Lengths(v)...)
	if f.nc.Header.IsRecordVariable(v) && len(lengths) > 0 {
		lengths[0] = int(f.nc.Header.NumRecs(f.size))
	}
	return lengths
}

// raw reads every value of v as float64 with packing and missing values
// applied.
func (f *File) raw(v string) ([]float64, []int, error) {
	if !f.Has(v) {
		return nil, nil, fmt.Errorf("%s: %q: %w", f.path, v, ErrNoVariable)
	}
	shape := f.shape(v)
	n := 1
	for _, l := range shape {
		n *= l
	}
	if n == 0 {
		return []float64{}, shape, nil
	}

	begin := make([]int, len(shape))
	end := make([]int, len(shape))
	for i, l := range shape {
		end[i] = l - 1
	}
	if len(shape) == 0 {
		begin, end = nil, nil
	}
	r := f.nc.Reader(v, begin, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, nil, fmt.Errorf("%s: read %s: %w", f.path, v, err)
	}

	h := f.nc.Header
	scale, hasScale := attrFloat(h.GetAttribute(v, "scale_factor"))
	offset, hasOffset := attrFloat(h.GetAttribute(v, "add_offset"))
	fill, hasFill := attrFloat(h.GetAttribute(v, "_FillValue"))
	missing, hasMissing := attrFloat(h.GetAttribute(v, "missing_value"))

	out := toFloat64(buf)
	for i, x := range out {
		if (hasFill && x == fill) || (hasMissing && x == missing) || math.IsNaN(x) {
			out[i] = math.NaN()
			continue
		}
		if hasScale {
			x *= scale
		}
		if hasOffset {
			x += offset
		}
		out[i] = x
	}
	return out, shape, nil
}

// Read loads variable name with its coordinate axes. Dimensions that have
// a coordinate variable get its values; time-like coordinates (units
// "<step> since <date>") are also decoded to dates.
func (f *File) Read(name string) (*Field, error) {
	data, shape, err := f.raw(name)
	if err != nil {
		return nil, err
	}
	dims := f.nc.Header.Dimensions(name)
	field, err := NewField(name, dims, shape, data)
	if err != nil {
		return nil, err
	}
	field.Units = f.Attr(name, "units")

	for _, d := range dims {
		if !f.Has(d) {
			continue
		}
		vals, _, err := f.raw(d)
		if err != nil {
			return nil, err
		}
		field.SetCoord(d, vals)
		units := f.Attr(d, "units")
		if !strings.Contains(units, " since ") {
			continue
		}
		tu, err := ParseTimeUnits(units)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", f.path, d, err)
		}
		cal, err := ParseCalendar(f.Attr(d, "calendar"))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", f.path, d, err)
		}
		field.SetDates(d, tu.Decode(vals, cal))
	}

	pole, err := f.rotatedPole(name)
	if err != nil {
		return nil, err
	}
	field.Pole = pole
	return field, nil
}

// Times decodes a time variable of any shape, including scalars such as a
// forecast reference time.
func (f *File) Times(name string) ([]Date, error) {
	vals, _, err := f.raw(name)
	if err != nil {
		return nil, err
	}
	tu, err := ParseTimeUnits(f.Attr(name, "units"))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", f.path, name, err)
	}
	cal, err := ParseCalendar(f.Attr(name, "calendar"))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", f.path, name, err)
	}
	return tu.Decode(vals, cal), nil
}

// rotatedPole finds the rotated_latitude_longitude grid mapping of v, via its
// grid_mapping attribute or a variable called rotated_pole.
func (f *File) rotatedPole(v string) (*RotatedPole, error) {
	mapping := f.Attr(v, "grid_mapping")
	if mapping == "" && f.Has("rotated_pole") {
		mapping = "rotated_pole"
	}
	if mapping == "" || !f.Has(mapping) {
		return nil, nil
	}
	if name := f.Attr(mapping, "grid_mapping_name"); name != "" && name != "rotated_latitude_longitude" {
		return nil, nil
	}
	h := f.nc.Header
	plat, ok1 := attrFloat(h.GetAttribute(mapping, "grid_north_pole_latitude"))
	plon, ok2 := attrFloat(h.GetAttribute(mapping, "grid_north_pole_longitude"))
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: %s lacks grid_north_pole attributes", f.path, mapping)
	}
	return &RotatedPole{Lat: plat, Lon: plon}, nil
}

// ReadFiles reads name from every path and concatenates the results along
// their shared time dimension in chronological order.
func ReadFiles(paths []string, name string) (*Field, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("read %s: no files", name)
	}
	parts := make([]*Field, 0, len(paths))
	for _, p := range paths {
		fl, err := Open(p)
		if err != nil {
			return nil, err
		}
		field, err := fl.Read(name)
		fl.Close()
		if err != nil {
			return nil, err
		}
		parts = append(parts, field)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return Concat(parts)
}

// Concat joins fields along their leading time dimension. Fields are ordered
// by first date; all other dimensions must agree.
func Concat(parts []*Field) (*Field, error) {
	first := parts[0]
	tdim := first.TimeDim()
	if tdim == "" || first.DimIndex(tdim) != 0 {
		return nil, fmt.Errorf("concat %s: leading dimension is not time", first.Name)
	}
	for _, p := range parts[1:] {
		if strings.Join(p.Dims, ",") != strings.Join(first.Dims, ",") {
			return nil, fmt.Errorf("concat %s: dimensions %v and %v differ", first.Name, first.Dims, p.Dims)
		}
		for i := 1; i < len(p.Shape); i++ {
			if p.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("concat %s: shapes %v and %v differ", first.Name, first.Shape, p.Shape)
			}
		}
	}

	sorted := append([]*Field(nil), parts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i].Dates(tdim), sorted[j].Dates(tdim)
		if len(di) == 0 || len(dj) == 0 {
			return len(di) > len(dj)
		}
		return di[0].Before(dj[0])
	})

	var (
		data   []float64
		coords []float64
		dates  []Date
		steps  int
	)
	for _, p := range sorted {
		data = append(data, p.Data...)
		coords = append(coords, p.Coord(tdim)...)
		dates = append(dates, p.Dates(tdim)...)
		steps += p.Shape[0]
	}
	shape := append([]int(nil), first.Shape...)
	shape[0] = steps

	out, err := NewField(first.Name, first.Dims, shape, data)
	if err != nil {
		return nil, err
	}
	out.Units = first.Units
	out.Pole = first.Pole
	for d, v := range first.coords {
		out.coords[d] = v
	}
	out.coords[tdim] = coords
	out.dates[tdim] = dates
	return out, nil
}

func attrFloat(v interface{}) (float64, bool) {
	switch a := v.(type) {
	case []float32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []float64:
		if len(a) > 0 {
			return a[0], true
		}
	case []int16:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []int32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []uint8:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	}
	return 0, false
}

func toFloat64(buf interface{}) []float64 {
	switch b := buf.(type) {
	case []float64:
		return b
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	case []int16:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	case []uint8:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(int8(v))
		}
		return out
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// readOnly satisfies cdf.ReaderWriterAt for files opened read-only.
type readOnly struct{ f *os.File }

func (r readOnly) ReadAt(p []byte, off int64) (int, error) { return r.f.ReadAt(p, off) }

func (r readOnly) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("grid: %s opened read-only", r.f.Name())
}
