package climate

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestMonthRowJSON(t *testing.T) {
	b, err := json.Marshal([]MonthRow{
		{Month: time.March, Present: 21.5, Future: math.NaN()},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `[{"month":3,"name":"Mar","present":21.5,"future":null}]`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestSeasonAnomalyJSON(t *testing.T) {
	b, err := json.Marshal(SeasonAnomaly{ValueMm: math.NaN()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["value_mm"] != nil {
		t.Errorf("value_mm = %v, want null", got["value_mm"])
	}
}
