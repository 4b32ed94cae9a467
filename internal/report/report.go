package report

import (
	"encoding/json"
	"os"
	"time"

	"example.com/edfgate/internal/edf"
	"example.com/edfgate/internal/rules"
)

// FileHeader pairs a decoded header with the file it came from.
type FileHeader struct {
	Name   string      `json:"name"`
	Header *edf.Header `json:"header"`
}

// HeaderReport is everything the PDF report renders for one file.
type HeaderReport struct {
	File       string                  `json:"file"`
	SHA256     string                  `json:"sha256,omitempty"`
	Generated  time.Time               `json:"generated"`
	Header     *edf.Header             `json:"header"`
	RulePack   *rules.RulePackSource   `json:"rulePack,omitempty"`
	Acceptance *rules.AcceptanceReport `json:"acceptance,omitempty"`
}

func SaveAcceptanceJSON(rep rules.AcceptanceReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadAcceptanceJSON(path string) (rules.AcceptanceReport, error) {
	var rep rules.AcceptanceReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}

func SaveHeaderJSON(rep HeaderReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}
