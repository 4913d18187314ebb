// Package analyzer maps a dependency's evidence onto CPE identifiers from
// the vulnerability catalog.
//
// For each confidence tier, strongest first, the vendor and product
// evidence seen so far is turned into a search over the catalog's
// vendor/product index. Hits that the raw evidence backs up are
// reconciled against the catalog's version records and the best
// candidates are committed to the dependency. Analysis stops at the first
// tier that commits an identifier.
package analyzer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"go.uber.org/zap"

	"github.com/StinkyLord/cpe-identifier/internal/catalog"
	"github.com/StinkyLord/cpe-identifier/internal/evidence"
	"github.com/StinkyLord/cpe-identifier/internal/index"
	"github.com/StinkyLord/cpe-identifier/internal/model"
	"github.com/StinkyLord/cpe-identifier/internal/query"
	"github.com/StinkyLord/cpe-identifier/internal/verify"
)

// Default NVD search links. {vendor}, {product} and {version} are replaced
// with query-escaped values.
const (
	DefaultInfoURL = "https://nvd.nist.gov/vuln/search/results?form_type=Advanced&results_type=overview" +
		"&search_type=all&cpe_vendor=cpe%3A%2F%3A{vendor}&cpe_product=cpe%3A%2F%3A{vendor}%3A{product}" +
		"&cpe_version=cpe%3A%2F%3A{vendor}%3A{product}%3A{version}"
	DefaultInfoURLBroad = "https://nvd.nist.gov/vuln/search/results?form_type=Advanced&results_type=overview" +
		"&search_type=all&cpe_vendor=cpe%3A%2F%3A{vendor}&cpe_product=cpe%3A%2F%3A{vendor}%3A{product}"
)

// DefaultMinScore is the search score below which hits would be discarded
// if score filtering were enabled.
const DefaultMinScore = 30

// Searcher is the part of the search index the analyzer uses.
type Searcher interface {
	ParseQuery(text string) (*index.Query, error)
	Search(q *index.Query, maxResults int) ([]index.Hit, error)
}

// Lookuper fetches catalog records for a vendor/product pair.
type Lookuper interface {
	Lookup(ctx context.Context, vendor, product string) ([]catalog.Record, error)
}

// Suppressor removes known false-positive identifiers from a dependency.
// Process must be idempotent.
type Suppressor interface {
	Process(d *model.Dependency)
}

// Config tunes the analyzer.
type Config struct {
	// SkipEcosystems lists dependency ecosystems that are never analyzed.
	SkipEcosystems []string
	// MaxResults caps the hits examined per search.
	MaxResults int
	// MinScore drops lower scoring hits when EnforceMinScore is set. Off
	// by default.
	MinScore        float64
	EnforceMinScore bool
	// InfoURL and InfoURLBroad are link templates for exact and
	// version-less identifiers.
	InfoURL      string
	InfoURLBroad string
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = index.DefaultMaxResults
	}
	if c.InfoURL == "" {
		c.InfoURL = DefaultInfoURL
	}
	if c.InfoURLBroad == "" {
		c.InfoURLBroad = DefaultInfoURLBroad
	}
	return c
}

// Analyzer is safe for concurrent use as long as each dependency is handed
// to one goroutine at a time.
type Analyzer struct {
	index  Searcher
	cat    Lookuper
	gate   Suppressor
	cfg    Config
	skip   stringset.Set
	logger *zap.Logger
}

// New returns an Analyzer over an already opened index and catalog. gate
// may be nil.
func New(idx Searcher, cat Lookuper, gate Suppressor, cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	a := &Analyzer{
		index:  idx,
		cat:    cat,
		gate:   gate,
		cfg:    cfg,
		skip:   stringset.New(cfg.SkipEcosystems...),
		logger: logger,
	}
	if a.skip.Len() > 0 {
		logger.Info("skipping CPE analysis", zap.Strings("ecosystems", a.skip.Elements()))
	}
	return a
}

// Prepare builds the search index from cat and returns a ready Analyzer
// along with the index, which the caller must close.
func Prepare(ctx context.Context, cat catalog.Catalog, gate Suppressor, cfg Config, logger *zap.Logger) (*Analyzer, *index.Index, error) {
	idx, err := index.Open(ctx, cat, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInitialization, err)
	}
	return New(idx, cat, gate, cfg, logger), idx, nil
}

// Skips reports whether d's ecosystem is excluded from analysis.
func (a *Analyzer) Skips(d *model.Dependency) bool {
	return d.Ecosystem != "" && a.skip.Contains(d.Ecosystem)
}

// Analyze identifies d, committing any identifiers found to it. It reports
// whether at least one identifier was added. Errors are *AnalysisError.
func (a *Analyzer) Analyze(ctx context.Context, d *model.Dependency) (bool, error) {
	if a.Skips(d) {
		a.logger.Debug("skipping dependency", zap.String("dependency", d.Key()), zap.String("ecosystem", d.Ecosystem))
		return false, nil
	}
	added, err := a.determineCPE(ctx, d)
	if err != nil {
		return added, &AnalysisError{Dependency: d.Key(), Err: err}
	}
	return added, nil
}

func (a *Analyzer) determineCPE(ctx context.Context, d *model.Dependency) (bool, error) {
	acc := evidence.NewAccumulator()
	previouslyFound := map[int]bool{}
	for _, conf := range model.Tiers {
		acc.CollectTier(d, conf)
		a.logger.Debug("collected search terms",
			zap.String("dependency", d.Key()),
			zap.String("confidence", string(conf)),
			zap.Any("vendors", acc.Vendors.Map()),
			zap.Any("products", acc.Products.Map()))
		if !acc.Ready() {
			continue
		}
		hits, ok := a.search(acc, d)
		if !ok {
			continue
		}
		added := false
		for _, h := range hits {
			if previouslyFound[h.DocID] {
				continue
			}
			previouslyFound[h.DocID] = true
			if !verify.Entry(d, h.Vendor, h.Product) {
				continue
			}
			a.logger.Debug("identified vendor/product",
				zap.String("dependency", d.Key()), zap.String("vendor", h.Vendor), zap.String("product", h.Product))
			found, err := a.determineIdentifiers(ctx, d, h.Vendor, h.Product, conf)
			if err != nil {
				return added, err
			}
			added = added || found
		}
		if added {
			return true, nil
		}
	}
	return false, nil
}

// search runs the boosted vendor/product query. Failures are logged and
// reported as !ok so the caller moves on to the next tier.
func (a *Analyzer) search(acc *evidence.Accumulator, d *model.Dependency) ([]index.Hit, bool) {
	hits, err := a.Search(acc.Vendors, acc.Products, d.VendorWeightings, d.ProductWeightings)
	if err != nil {
		a.logger.Warn("error searching the CPE index", zap.String("dependency", d.Key()), zap.Error(err))
		return nil, false
	}
	return hits, hits != nil
}

// Search queries the index for vendor/product pairs matching the given
// terms. Duplicate documents are dropped, and so are hits under the
// minimum score when score filtering is enforced. It returns nil, nil when
// either side has no terms.
func (a *Analyzer) Search(vendors, products *evidence.Terms, vendorWeightings, productWeightings []string) ([]index.Hit, error) {
	text, ok := query.Build(vendors, products, vendorWeightings, productWeightings)
	if !ok {
		return nil, nil
	}
	q, err := a.index.ParseQuery(text)
	if err != nil {
		a.logger.Debug("unparsable query", zap.String("query", text))
		return nil, err
	}
	hits, err := a.index.Search(q, a.cfg.MaxResults)
	if err != nil {
		a.logger.Debug("failed query", zap.String("query", text))
		return nil, err
	}
	seen := map[int]bool{}
	out := make([]index.Hit, 0, len(hits))
	for _, h := range hits {
		if seen[h.DocID] {
			continue
		}
		seen[h.DocID] = true
		if a.cfg.EnforceMinScore && h.Score < a.cfg.MinScore {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// infoURL fills a link template.
func infoURL(template, vendor, product, version string) string {
	return strings.NewReplacer(
		"{vendor}", url.QueryEscape(vendor),
		"{product}", url.QueryEscape(product),
		"{version}", url.QueryEscape(version),
	).Replace(template)
}
