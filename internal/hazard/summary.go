package hazard

import (
	"fmt"
	"strings"

	"github.com/lox/daasclimate/internal/htmlutil"
	"github.com/lox/daasclimate/internal/models"
)

// Summary renders events as a short list for the consultation prompt.
func Summary(events []models.HazardEvent, km float64) string {
	if len(events) == 0 {
		return fmt.Sprintf("No recorded hazard events within %g km.", km)
	}
	var b strings.Builder
	for i, ev := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s %s", ev.EventDate.Format("2006-01-02"), ev.EventType)
		if ev.Country != "" {
			fmt.Fprintf(&b, " (%s, %.0f km away)", ev.Country, ev.DistanceKm)
		} else {
			fmt.Fprintf(&b, " (%.0f km away)", ev.DistanceKm)
		}
		if d := htmlutil.Snippet(ev.Description, 160); d != "" {
			b.WriteString(": ")
			b.WriteString(d)
		}
	}
	return b.String()
}
