package climate

import (
	"encoding/json"
	"math"
	"time"

	"github.com/lox/daasclimate/internal/grid"
)

// Nullable maps NaN, the missing value marker, to nil so it encodes as
// JSON null.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NullableSlice applies Nullable to each value.
func NullableSlice(vals []float64) []*float64 {
	out := make([]*float64, len(vals))
	for i, v := range vals {
		out[i] = Nullable(v)
	}
	return out
}

func (r MonthRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Month   time.Month `json:"month"`
		Name    string     `json:"name"`
		Present *float64   `json:"present"`
		Future  *float64   `json:"future"`
	}{r.Month, r.Month.String()[:3], Nullable(r.Present), Nullable(r.Future)})
}

func (a SeasonAnomaly) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Window  Window    `json:"window"`
		ValueMm *float64  `json:"value_mm"`
		Cell    grid.Cell `json:"cell"`
	}{a.Window, Nullable(a.ValueMm), a.Cell})
}
