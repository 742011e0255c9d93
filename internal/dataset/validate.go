package dataset

import (
	"math"

	"github.com/lox/daasclimate/internal/grid"
)

const (
	FlagTempOutOfRange = "temp_out_of_range"
	FlagPrecipNegative = "precip_negative"
	FlagAllMissing     = "all_missing"
)

// Flag reports values of one variable that failed a range check.
type Flag struct {
	Dataset  string `json:"dataset"`
	Variable string `json:"variable"`
	Flag     string `json:"flag"`
	Count    int    `json:"count"`
}

// ValidateField range checks a field by variable name: tas must be within
// 150..350 K, precipitation rates must not be negative.
func ValidateField(dataset string, f *grid.Field) []Flag {
	var flags []Flag
	add := func(flag string, n int) {
		if n > 0 {
			flags = append(flags, Flag{Dataset: dataset, Variable: f.Name, Flag: flag, Count: n})
		}
	}

	var outOfRange, negative, missing int
	for _, v := range f.Data {
		if math.IsNaN(v) {
			missing++
			continue
		}
		switch f.Name {
		case "tas":
			if v < 150 || v > 350 {
				outOfRange++
			}
		case "pr", "tprate":
			if v < 0 {
				negative++
			}
		}
	}
	add(FlagTempOutOfRange, outOfRange)
	add(FlagPrecipNegative, negative)
	if len(f.Data) > 0 && missing == len(f.Data) {
		add(FlagAllMissing, missing)
	}
	return flags
}
