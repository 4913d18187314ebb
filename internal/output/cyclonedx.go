// Package output serializes identification results.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"

	"github.com/StinkyLord/cpe-identifier/internal/model"
	"github.com/StinkyLord/cpe-identifier/internal/scanner"
)

// Property names attached to each component.
const (
	propStatus     = "cpe-identifier:status"
	propIdentifier = "cpe-identifier:cpe"
	propError      = "cpe-identifier:error"
	propEcosystem  = "cpe-identifier:ecosystem"
	propFile       = "cpe-identifier:file"
)

// WriteCycloneDX serialises the result as a CycloneDX JSON BOM and writes it
// to outputPath. If outputPath is "-", it writes to stdout.
func WriteCycloneDX(result *scanner.Result, outputPath string, toolVersion string) error {
	return writeTo(outputPath, func(w io.Writer) error {
		bom := BuildCycloneDX(result, toolVersion)
		return cyclonedx.NewBOMEncoder(w, cyclonedx.BOMFileFormatJSON).SetPretty(true).Encode(bom)
	})
}

// BuildCycloneDX converts the result into a BOM. Each dependency becomes a
// library component whose CPE is its strongest identifier; every
// identifier is also listed as a property.
func BuildCycloneDX(result *scanner.Result, toolVersion string) *cyclonedx.BOM {
	bom := cyclonedx.NewBOM()
	bom.SerialNumber = "urn:uuid:" + uuid.New().String()
	bom.Metadata = &cyclonedx.Metadata{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Tools: &cyclonedx.ToolsChoice{
			Components: &[]cyclonedx.Component{{
				Type:      cyclonedx.ComponentTypeApplication,
				Publisher: "StinkyLord",
				Name:      "cpe-identifier",
				Version:   toolVersion,
			}},
		},
	}

	outcomes := sortedOutcomes(result)
	comps := make([]cyclonedx.Component, 0, len(outcomes))
	for _, o := range outcomes {
		comps = append(comps, toComponent(o))
	}
	bom.Components = &comps
	return bom
}

func toComponent(o scanner.Outcome) cyclonedx.Component {
	d := o.Dependency
	name := d.Name
	if name == "" {
		name = d.FileName
	}
	comp := cyclonedx.Component{
		BOMRef:     uuid.New().String(),
		Type:       cyclonedx.ComponentTypeLibrary,
		Name:       name,
		Version:    d.Version,
		PackageURL: d.PURL,
	}
	props := []cyclonedx.Property{{Name: propStatus, Value: string(o.Status)}}
	if d.Ecosystem != "" {
		props = append(props, cyclonedx.Property{Name: propEcosystem, Value: d.Ecosystem})
	}
	if d.FileName != "" {
		props = append(props, cyclonedx.Property{Name: propFile, Value: d.FileName})
	}
	if o.Err != nil {
		props = append(props, cyclonedx.Property{Name: propError, Value: o.Err.Error()})
	}

	ids := byStrength(d.Identifiers())
	var refs []cyclonedx.ExternalReference
	for i, id := range ids {
		if i == 0 {
			comp.CPE = id.CPE.String()
		}
		props = append(props, cyclonedx.Property{
			Name:  propIdentifier,
			Value: fmt.Sprintf("%s|%s", id.CPE, id.Confidence),
		})
		if id.URL != "" {
			refs = append(refs, cyclonedx.ExternalReference{
				URL:     id.URL,
				Type:    cyclonedx.ERTypeAdvisories,
				Comment: id.CPE.String(),
			})
		}
	}
	comp.Properties = &props
	if len(refs) > 0 {
		comp.ExternalReferences = &refs
	}
	return comp
}

// byStrength orders identifiers strongest confidence first; ties keep the
// CPE order Identifiers returns.
func byStrength(ids []model.Identifier) []model.Identifier {
	sort.SliceStable(ids, func(i, j int) bool {
		return ids[i].Confidence.StrongerThan(ids[j].Confidence)
	})
	return ids
}

// sortedOutcomes returns the outcomes sorted by dependency name for
// deterministic output.
func sortedOutcomes(result *scanner.Result) []scanner.Outcome {
	out := make([]scanner.Outcome, len(result.Outcomes))
	copy(out, result.Outcomes)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Dependency.Key() < out[j].Dependency.Key()
	})
	return out
}

// writeTo runs write against outputPath, or stdout if outputPath is "-".
func writeTo(outputPath string, write func(io.Writer) error) error {
	if outputPath == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
