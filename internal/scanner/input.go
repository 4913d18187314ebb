package scanner

import (
	"fmt"
	"os"
	"strings"

	"github.com/package-url/packageurl-go"
	"gopkg.in/yaml.v3"

	"github.com/StinkyLord/cpe-identifier/internal/ecosystem"
	"github.com/StinkyLord/cpe-identifier/internal/model"
)

// inputDependency is one element of a dependency list file. JSON input is
// accepted too since it parses as YAML.
type inputDependency struct {
	Name              string          `yaml:"name"`
	Version           string          `yaml:"version"`
	Ecosystem         string          `yaml:"ecosystem"`
	PURL              string          `yaml:"purl"`
	File              string          `yaml:"file"`
	Evidence          []inputEvidence `yaml:"evidence"`
	VendorWeightings  []string        `yaml:"vendor_weightings"`
	ProductWeightings []string        `yaml:"product_weightings"`
}

type inputEvidence struct {
	Type       string `yaml:"type"`
	Confidence string `yaml:"confidence"`
	Source     string `yaml:"source"`
	Name       string `yaml:"name"`
	Value      string `yaml:"value"`
}

// purlSource names evidence derived from a package URL.
const purlSource = "purl"

// purlEcosystems maps package URL types to dependency ecosystems.
var purlEcosystems = map[string]string{
	"maven":    ecosystem.Java,
	"nuget":    ecosystem.DotNet,
	"pypi":     ecosystem.Python,
	"npm":      ecosystem.NPM,
	"gem":      ecosystem.Ruby,
	"composer": ecosystem.PHP,
	"conan":    ecosystem.Native,
	"golang":   "golang",
	"cargo":    "rust",
}

// LoadFile reads a dependency list from path.
func LoadFile(path string) ([]*model.Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dependencies %s: %w", path, err)
	}
	deps, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading dependencies %s: %w", path, err)
	}
	return deps, nil
}

// Parse decodes a YAML or JSON dependency list. Entries describing the same
// dependency are merged.
func Parse(data []byte) ([]*model.Dependency, error) {
	var in []inputDependency
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decoding dependency list: %w", err)
	}
	merged := map[string]*model.Dependency{}
	var order []string
	for i, entry := range in {
		d, err := entry.toDependency()
		if err != nil {
			return nil, fmt.Errorf("dependency %d: %w", i, err)
		}
		key := d.Key()
		if _, ok := merged[key]; !ok {
			order = append(order, key)
		}
		mergeDependency(merged, key, d)
	}
	deps := make([]*model.Dependency, 0, len(order))
	for _, k := range order {
		deps = append(deps, merged[k])
	}
	return deps, nil
}

func (in inputDependency) toDependency() (*model.Dependency, error) {
	d := &model.Dependency{
		Name:              in.Name,
		Version:           in.Version,
		Ecosystem:         in.Ecosystem,
		PURL:              in.PURL,
		FileName:          in.File,
		VendorWeightings:  in.VendorWeightings,
		ProductWeightings: in.ProductWeightings,
	}
	for j, e := range in.Evidence {
		t, err := model.ParseEvidenceType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("evidence %d: %w", j, err)
		}
		c, err := model.ParseConfidence(e.Confidence)
		if err != nil {
			return nil, fmt.Errorf("evidence %d: %w", j, err)
		}
		d.AddEvidence(model.Evidence{Type: t, Confidence: c, Source: e.Source, Name: e.Name, Value: e.Value})
	}
	if in.PURL != "" {
		if err := applyPURL(d, len(in.Evidence) == 0); err != nil {
			return nil, err
		}
	}
	if d.Name == "" && d.FileName == "" {
		return nil, fmt.Errorf("dependency has neither name, file nor purl")
	}
	return d, nil
}

// applyPURL fills the declared name, version and ecosystem from the
// dependency's package URL where they are unset. When the dependency
// carries no evidence, the package URL's parts become its evidence.
func applyPURL(d *model.Dependency, addEvidence bool) error {
	p, err := packageurl.FromString(d.PURL)
	if err != nil {
		return fmt.Errorf("parsing purl %q: %w", d.PURL, err)
	}
	if d.Name == "" {
		d.Name = p.Name
	}
	if d.Version == "" {
		d.Version = p.Version
	}
	if d.Ecosystem == "" {
		d.Ecosystem = purlEcosystems[p.Type]
	}
	if !addEvidence {
		return nil
	}
	add := func(t model.EvidenceType, c model.Confidence, name, value string) {
		if value != "" {
			d.AddEvidence(model.Evidence{Type: t, Confidence: c, Source: purlSource, Name: name, Value: value})
		}
	}
	vendor := p.Namespace
	if i := strings.LastIndexByte(vendor, '/'); i >= 0 {
		vendor = vendor[i+1:]
	}
	add(model.Vendor, model.Highest, "namespace", vendor)
	add(model.Vendor, model.Low, "name", p.Name)
	add(model.Product, model.Highest, "name", p.Name)
	add(model.Version, model.Highest, "version", p.Version)
	return nil
}

// mergeDependency folds incoming into the dependency stored under key.
// Evidence already present is not duplicated.
func mergeDependency(merged map[string]*model.Dependency, key string, incoming *model.Dependency) {
	existing, ok := merged[key]
	if !ok {
		merged[key] = incoming
		return
	}
	if existing.Ecosystem == "" {
		existing.Ecosystem = incoming.Ecosystem
	}
	if existing.PURL == "" {
		existing.PURL = incoming.PURL
	}
	if existing.FileName == "" {
		existing.FileName = incoming.FileName
	}
	for _, t := range []model.EvidenceType{model.Vendor, model.Product, model.Version} {
		have := map[model.Evidence]bool{}
		for _, e := range existing.AllEvidence(t) {
			have[e] = true
		}
		for _, e := range incoming.AllEvidence(t) {
			if !have[e] {
				existing.AddEvidence(e)
				have[e] = true
			}
		}
	}
	for _, w := range incoming.VendorWeightings {
		existing.VendorWeightings = appendUniqueStr(existing.VendorWeightings, w)
	}
	for _, w := range incoming.ProductWeightings {
		existing.ProductWeightings = appendUniqueStr(existing.ProductWeightings, w)
	}
}

func appendUniqueStr(slice []string, s string) []string {
	for _, v := range slice {
		if v == s {
			return slice
		}
	}
	return append(slice, s)
}
