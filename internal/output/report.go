package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/StinkyLord/cpe-identifier/internal/scanner"
)

// ReportEntry is one dependency in the JSON report.
type ReportEntry struct {
	Name        string             `json:"name"`
	Version     string             `json:"version,omitempty"`
	Ecosystem   string             `json:"ecosystem,omitempty"`
	PURL        string             `json:"purl,omitempty"`
	File        string             `json:"file,omitempty"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Identifiers []ReportIdentifier `json:"identifiers"`
}

// ReportIdentifier is a committed identifier.
type ReportIdentifier struct {
	CPE        string `json:"cpe"`
	Confidence string `json:"confidence"`
	URL        string `json:"url,omitempty"`
}

// WriteJSON writes a plain JSON report of every dependency and its
// identifiers to outputPath, or stdout if outputPath is "-".
//
// Example output:
//
//	[
//	  {
//	    "name": "struts2-core",
//	    "version": "2.3.15",
//	    "status": "identified",
//	    "identifiers": [
//	      {
//	        "cpe": "cpe:2.3:a:apache:struts:2.3.15:*:*:*:*:*:*:*",
//	        "confidence": "HIGHEST",
//	        "url": "https://nvd.nist.gov/vuln/search/results?..."
//	      }
//	    ]
//	  }
//	]
func WriteJSON(result *scanner.Result, outputPath string) error {
	return writeTo(outputPath, func(w io.Writer) error {
		return encodeReport(w, BuildReport(result))
	})
}

// BuildReport converts the result into report entries sorted by
// dependency.
func BuildReport(result *scanner.Result) []ReportEntry {
	outcomes := sortedOutcomes(result)
	entries := make([]ReportEntry, 0, len(outcomes))
	for _, o := range outcomes {
		d := o.Dependency
		e := ReportEntry{
			Name:        d.Name,
			Version:     d.Version,
			Ecosystem:   d.Ecosystem,
			PURL:        d.PURL,
			File:        d.FileName,
			Status:      string(o.Status),
			Identifiers: []ReportIdentifier{},
		}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		for _, id := range byStrength(d.Identifiers()) {
			e.Identifiers = append(e.Identifiers, ReportIdentifier{
				CPE:        id.CPE.String(),
				Confidence: string(id.Confidence),
				URL:        id.URL,
			})
		}
		entries = append(entries, e)
	}
	return entries
}

func encodeReport(w io.Writer, entries []ReportEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to marshal JSON report: %w", err)
	}
	return nil
}
