// Package evidence collapses a dependency's raw evidence into weighted
// candidate search terms.
package evidence

import (
	"regexp"
	"strings"

	"github.com/StinkyLord/cpe-identifier/internal/model"
)

// MaxTermLength is the longest term kept; longer values are truncated at a
// word boundary.
const MaxTermLength = 1000

// reCleanse matches every character the search index does not use.
var reCleanse = regexp.MustCompile(`[^A-Za-z0-9 ._:/-]`)

// truncateBoundaries are tried in order when cutting an overlong term.
var truncateBoundaries = []string{" ", ".", "-", "_", "/"}

// Terms maps normalized evidence values to the number of times they were
// seen. A Terms value is an accumulator: it is created once per dependency
// and evidence type, and every Collect call adds to it. It is never reset
// between confidence tiers, so after collecting tier k it holds the union of
// tiers 1..k. Iteration follows first-insertion order.
type Terms struct {
	counts map[string]int
	order  []string
}

// NewTerms returns an empty accumulator.
func NewTerms() *Terms {
	return &Terms{counts: map[string]int{}}
}

// Collect normalizes each evidence value and adds it to the accumulator.
func (t *Terms) Collect(evidence []model.Evidence) {
	for _, e := range evidence {
		t.Add(e.Value)
	}
}

// Add normalizes a single raw value and counts it. Values that normalize
// to nothing are dropped.
func (t *Terms) Add(raw string) {
	v := Normalize(raw)
	if v == "" {
		return
	}
	if _, ok := t.counts[v]; !ok {
		t.order = append(t.order, v)
	}
	t.counts[v]++
}

// Len returns the number of distinct terms.
func (t *Terms) Len() int {
	return len(t.order)
}

// Weight returns the occurrence count of term.
func (t *Terms) Weight(term string) int {
	return t.counts[term]
}

// Each calls fn for every term in first-insertion order.
func (t *Terms) Each(fn func(term string, weight int)) {
	for _, term := range t.order {
		fn(term, t.counts[term])
	}
}

// Map returns a copy of the term weights.
func (t *Terms) Map() map[string]int {
	m := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		m[k] = v
	}
	return m
}

// Normalize replaces characters outside [A-Za-z0-9 ._:/-] with spaces and
// truncates values longer than MaxTermLength. A value that is only
// whitespace after cleansing normalizes to "".
func Normalize(raw string) string {
	v := reCleanse.ReplaceAllString(raw, " ")
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return truncate(v)
}

func truncate(v string) string {
	if len(v) <= MaxTermLength {
		return v
	}
	// The cut may land exactly on offset MaxTermLength.
	window := v[:MaxTermLength+1]
	for _, sep := range truncateBoundaries {
		if pos := strings.LastIndex(window, sep); pos > 0 {
			return v[:pos]
		}
	}
	return v[:MaxTermLength]
}

// Accumulator threads the vendor and product term maps through the tier
// loop for one dependency.
type Accumulator struct {
	Vendors  *Terms
	Products *Terms
}

// NewAccumulator returns empty vendor and product term maps.
func NewAccumulator() *Accumulator {
	return &Accumulator{Vendors: NewTerms(), Products: NewTerms()}
}

// CollectTier adds the dependency's vendor and product evidence at tier c
// to the running maps.
func (a *Accumulator) CollectTier(d *model.Dependency, c model.Confidence) {
	a.Vendors.Collect(d.Evidence(model.Vendor, c))
	a.Products.Collect(d.Evidence(model.Product, c))
}

// Ready reports whether both maps have at least one term.
func (a *Accumulator) Ready() bool {
	return a.Vendors.Len() > 0 && a.Products.Len() > 0
}
