// Package gridtest writes small NetCDF classic files for tests.
package gridtest

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
)

// Var is one variable to write. Data is float32 unless Double is set.
type Var struct {
	Name   string
	Dims   []string
	Data   []float64
	Double bool
	Attrs  map[string]interface{}
}

// Spec describes a file. A dimension of length 0 is the record dimension;
// its size is inferred from the first variable that uses it. The record
// variable holding the data should be listed last so the final record is
// complete on disk.
type Spec struct {
	Dims    []string
	Lengths []int
	Vars    []Var
	Global  map[string]interface{}
}

// Write creates dir/name from spec and returns its path.
func Write(t testing.TB, dir, name string, spec Spec) string {
	t.Helper()
	path := filepath.Join(dir, name)

	h := cdf.NewHeader(spec.Dims, spec.Lengths)
	for _, v := range spec.Vars {
		if v.Double {
			h.AddVariable(v.Name, v.Dims, []float64{0})
		} else {
			h.AddVariable(v.Name, v.Dims, []float32{0})
		}
		for k, a := range v.Attrs {
			h.AddAttribute(v.Name, k, a)
		}
	}
	for k, a := range spec.Global {
		h.AddAttribute("", k, a)
	}
	h.Define()

	osf, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer osf.Close()
	f, err := cdf.Create(osf, h)
	if err != nil {
		t.Fatalf("cdf create: %v", err)
	}

	records := recordCount(spec)
	for _, v := range spec.Vars {
		if len(v.Data) == 0 {
			continue
		}
		var end []int
		if rec := isRecord(spec, v); rec && records > 0 {
			lengths := h.Lengths(v.Name)
			end = make([]int, len(lengths))
			end[0] = records - 1
			for i := 1; i < len(lengths); i++ {
				end[i] = lengths[i] - 1
			}
		}
		var begin []int
		if end != nil {
			begin = make([]int, len(end))
		}
		w := f.Writer(v.Name, begin, end)
		var vals interface{}
		if v.Double {
			vals = v.Data
		} else {
			f32 := make([]float32, len(v.Data))
			for i, x := range v.Data {
				f32[i] = float32(x)
			}
			vals = f32
		}
		// The writer reports io.EOF once it reaches the end of the variable.
		if _, err := w.Write(vals); err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("write %s: %v", v.Name, err)
		}
	}
	if records > 0 {
		if err := cdf.UpdateNumRecs(osf); err != nil {
			t.Fatalf("update numrecs: %v", err)
		}
	}
	return path
}

func isRecord(spec Spec, v Var) bool {
	if len(v.Dims) == 0 {
		return false
	}
	for i, d := range spec.Dims {
		if d == v.Dims[0] {
			return spec.Lengths[i] == 0
		}
	}
	return false
}

// recordCount infers the number of records from the first record variable.
func recordCount(spec Spec) int {
	for _, v := range spec.Vars {
		if !isRecord(spec, v) {
			continue
		}
		per := 1
		for _, d := range v.Dims[1:] {
			for i, sd := range spec.Dims {
				if sd == d {
					per *= spec.Lengths[i]
				}
			}
		}
		if per > 0 {
			return len(v.Data) / per
		}
	}
	return 0
}

// Floats converts float64 attribute values to the float32 attribute type.
func Floats(v ...float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
