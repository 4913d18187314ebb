// Package model defines the dependency, evidence and identifier types shared
// by the identification pipeline.
package model

import (
	"sort"

	"github.com/StinkyLord/cpe-identifier/internal/cpe"
)

// Identifier is a CPE committed to a dependency together with the
// confidence of the evidence that produced it.
type Identifier struct {
	CPE        cpe.CPE
	URL        string // human-facing reference link, may be empty
	Confidence Confidence
}

// Dependency is a third-party component under analysis. Evidence is added by
// upstream analyzers; the identification engine only ever adds identifiers.
// A Dependency is owned by one worker at a time and is not safe for
// concurrent use.
type Dependency struct {
	Name      string // declared name, optional
	Version   string // declared version, optional
	Ecosystem string
	PURL      string
	FileName  string

	// VendorWeightings and ProductWeightings are terms upstream analyzers
	// consider especially significant; matching query words get boosted.
	VendorWeightings  []string
	ProductWeightings []string

	evidence map[EvidenceType]map[Confidence][]Evidence

	identifiers []*Identifier
}

// AddEvidence records e on the dependency.
func (d *Dependency) AddEvidence(e Evidence) {
	if d.evidence == nil {
		d.evidence = map[EvidenceType]map[Confidence][]Evidence{}
	}
	byConf := d.evidence[e.Type]
	if byConf == nil {
		byConf = map[Confidence][]Evidence{}
		d.evidence[e.Type] = byConf
	}
	byConf[e.Confidence] = append(byConf[e.Confidence], e)
}

// Evidence returns the evidence of type t collected at confidence c.
func (d *Dependency) Evidence(t EvidenceType, c Confidence) []Evidence {
	return d.evidence[t][c]
}

// AllEvidence returns every piece of evidence of type t, strongest tier first.
func (d *Dependency) AllEvidence(t EvidenceType) []Evidence {
	var all []Evidence
	for _, c := range Tiers {
		all = append(all, d.evidence[t][c]...)
	}
	return all
}

// Key returns a normalized deduplication key for the dependency.
// It uses the normalized name (lowercase, _ and . replaced with -)
// combined with the version, so that:
//   - "struts2_core@2.3.15" and "struts2-core@2.3.15" collapse to the same key
//   - "openssl@1.1.1" and "openssl@3.1.4" remain distinct keys
func (d *Dependency) Key() string {
	name := d.Name
	if name == "" {
		name = d.FileName
	}
	return normalizeKey(name) + "@" + d.Version
}

// normalizeKey returns a normalized map key for a name string:
// lowercase, with underscores and dots replaced by hyphens.
func normalizeKey(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b >= 'A' && b <= 'Z' {
			b += 32
		}
		if b == '_' || b == '.' {
			b = '-'
		}
		result = append(result, b)
	}
	return string(result)
}

// AddIdentifier commits id. Identifiers are keyed by CPE: adding one that is
// already present never duplicates it and never lowers its confidence.
func (d *Dependency) AddIdentifier(id Identifier) {
	for _, existing := range d.identifiers {
		if cpe.Compare(existing.CPE, id.CPE) == 0 {
			if id.Confidence.StrongerThan(existing.Confidence) {
				existing.Confidence = id.Confidence
			}
			if existing.URL == "" {
				existing.URL = id.URL
			}
			return
		}
	}
	c := id
	d.identifiers = append(d.identifiers, &c)
}

// RemoveIdentifiers drops every identifier for which drop returns true and
// reports how many were removed.
func (d *Dependency) RemoveIdentifiers(drop func(Identifier) bool) int {
	kept := d.identifiers[:0]
	removed := 0
	for _, id := range d.identifiers {
		if drop(*id) {
			removed++
			continue
		}
		kept = append(kept, id)
	}
	for i := len(kept); i < len(d.identifiers); i++ {
		d.identifiers[i] = nil
	}
	d.identifiers = kept
	return removed
}

// HasIdentifier reports whether an identifier for c is committed.
func (d *Dependency) HasIdentifier(c cpe.CPE) bool {
	for _, id := range d.identifiers {
		if cpe.Compare(id.CPE, c) == 0 {
			return true
		}
	}
	return false
}

// Identifiers returns a sorted copy of the committed identifiers.
func (d *Dependency) Identifiers() []Identifier {
	out := make([]Identifier, 0, len(d.identifiers))
	for _, id := range d.identifiers {
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool {
		return cpe.Compare(out[i].CPE, out[j].CPE) < 0
	})
	return out
}

// StrongestIdentifierConfidence returns the most reliable confidence among
// committed identifiers, or Weakest when there are none.
func (d *Dependency) StrongestIdentifierConfidence() Confidence {
	best := Weakest
	for _, id := range d.identifiers {
		if id.Confidence.StrongerThan(best) {
			best = id.Confidence
		}
	}
	return best
}
