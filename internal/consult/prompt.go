package consult

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
)

const humanTemplate = `{{.Activity}}
Location: latitude = {{.Lat}}, longitude = {{.Lon}}
Current soil type: {{.Soil}}
Current mean monthly temperature for each month: {{.PresentTemp}}
Future monthly temperatures for each month at the location: {{.FutureTemp}}
Current precipitation flux (mm/month): {{.PresentPrecip}}
Future precipitation flux (mm/month): {{.FuturePrecip}}
Current seasonal precipitation anomaly{{with .Season}} ({{.}}){{end}}: {{.Anomaly}}
Recorded hazard events within {{.HazardKm}} km:
{{.Hazards}}
`

var humanPrompt = template.Must(template.New("human").Parse(humanTemplate))

// PromptData fills the human message.
type PromptData struct {
	Activity      string
	Lat, Lon      string
	Soil          string
	PresentTemp   string
	FutureTemp    string
	PresentPrecip string
	FuturePrecip  string
	Season        string
	Anomaly       string
	HazardKm      string
	Hazards       string
}

// Prompt is the pair of chat messages sent to the model.
type Prompt struct {
	System string `json:"system"`
	Human  string `json:"human"`
}

func renderPrompt(system string, d PromptData) (Prompt, error) {
	var b strings.Builder
	if err := humanPrompt.Execute(&b, d); err != nil {
		return Prompt{}, fmt.Errorf("render prompt: %w", err)
	}
	return Prompt{System: system, Human: b.String()}, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatAnomaly(mm float64) string {
	if math.IsNaN(mm) {
		return "not available"
	}
	return fmt.Sprintf("%.1f mm", mm)
}
