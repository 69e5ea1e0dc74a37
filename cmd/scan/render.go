package scan

import (
	"bytes"
	"encoding/json"
	"fmt"

	internalreport "github.com/scan-io-git/vulnimpact/internal/report"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

// Report is the JSON document printed by the scan command.
type Report struct {
	Result shared.ScanResult        `json:"result"`
	Plans  []shared.RemediationPlan `json:"plans,omitempty"`
}

func render(format string, result shared.ScanResult, plans []shared.RemediationPlan) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(Report{Result: result, Plans: plans})
	case FormatSARIF:
		var buf bytes.Buffer
		if err := internalreport.WriteSARIF(&buf, result); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func renderJSON(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}
