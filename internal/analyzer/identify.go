package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/StinkyLord/cpe-identifier/internal/catalog"
	"github.com/StinkyLord/cpe-identifier/internal/cpe"
	"github.com/StinkyLord/cpe-identifier/internal/ecosystem"
	"github.com/StinkyLord/cpe-identifier/internal/index"
	"github.com/StinkyLord/cpe-identifier/internal/model"
	"github.com/StinkyLord/cpe-identifier/internal/version"
)

// MatchKind says how a candidate's version relates to the catalog.
// Lower values are better.
type MatchKind int

const (
	ExactMatch MatchKind = iota
	BestGuess
	BroadMatch
)

func (k MatchKind) String() string {
	switch k {
	case ExactMatch:
		return "EXACT_MATCH"
	case BestGuess:
		return "BEST_GUESS"
	case BroadMatch:
		return "BROAD_MATCH"
	}
	return fmt.Sprintf("MatchKind(%d)", int(k))
}

// candidate is an identifier that may be committed to the dependency.
type candidate struct {
	cpe        cpe.CPE
	url        string
	kind       MatchKind
	confidence model.Confidence // tier of the evidence that produced it
}

func sortCandidates(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].kind != cs[j].kind {
			return cs[i].kind < cs[j].kind
		}
		return cpe.Compare(cs[i].cpe, cs[j].cpe) < 0
	})
}

// bestGuess tracks the most plausible version seen when no catalog record
// matched exactly.
type bestGuess struct {
	version    version.Version
	confidence model.Confidence // empty until set
	url        string
}

// replaceableAt reports whether evidence at tier c may replace the guess.
// Only a strictly stronger tier does, so among equals the first one wins.
func (g *bestGuess) replaceableAt(c model.Confidence) bool {
	return g.confidence == "" || c.StrongerThan(g.confidence)
}

func (g *bestGuess) set(v version.Version, c model.Confidence, url string) {
	g.version, g.confidence, g.url = v, c, url
}

// determineIdentifiers reconciles the dependency's versions against the
// catalog records for vendor/product and commits the best candidates. It
// reports whether an identifier survived suppression.
func (a *Analyzer) determineIdentifiers(ctx context.Context, d *model.Dependency, vendor, product string, current model.Confidence) (bool, error) {
	records, err := a.cat.Lookup(ctx, vendor, product)
	if err != nil {
		a.logger.Warn("catalog lookup failed",
			zap.String("vendor", vendor),
			zap.String("product", product),
			zap.Error(err))
		return false, nil
	}
	records = filterEcosystem(d.Ecosystem, records)
	if len(records) == 0 {
		return false, nil
	}

	maxDepth := 0
	for _, r := range records {
		if v, ok := version.Parse(r.CPE.Version); ok && v.Depth() > maxDepth {
			maxDepth = v.Depth()
		}
	}

	var collected []candidate
	if c, ok, err := a.declaredCandidate(d, vendor, product, maxDepth, current); err != nil {
		return false, err
	} else if ok {
		collected = append(collected, c)
	}

	guess := bestGuess{version: version.New(version.None)}
	hasBroadMatch := false
	for _, conf := range model.Tiers {
		for _, e := range d.Evidence(model.Version, conf) {
			evVer, ok := version.Parse(e.Value)
			if !ok {
				continue
			}
			evBase, hasBase := evVer.BaseVersion(maxDepth)
			for _, r := range records {
				rc := r.CPE
				dbVer, ok := version.ParseStrict(rc.Version)
				if !ok {
					// No version: every release is affected.
					hasBroadMatch = true
					collected = append(collected, candidate{
						cpe:        rc,
						url:        infoURL(a.cfg.InfoURLBroad, rc.Vendor, rc.Product, ""),
						kind:       BroadMatch,
						confidence: conf,
					})
					continue
				}
				switch {
				case evVer.Equal(dbVer):
					collected = append(collected, candidate{
						cpe:        rc,
						url:        infoURL(a.cfg.InfoURL, rc.Vendor, rc.Product, rc.Version),
						kind:       ExactMatch,
						confidence: conf,
					})
				case hasBase && evBase.Equal(dbVer) && guess.replaceableAt(conf):
					guess.set(dbVer, conf, infoURL(a.cfg.InfoURL, rc.Vendor, rc.Product, rc.Version))
				default:
					extended, ok := extendedVersion(rc)
					if ok && evVer.Depth() <= extended.Depth() && evVer.MatchesAtLeastThreeLevels(extended) &&
						guess.replaceableAt(conf) && guess.version.Depth() < dbVer.Depth() {
						guess.set(dbVer, conf, infoURL(a.cfg.InfoURL, rc.Vendor, rc.Product, rc.Version))
					}
				}
			}
			if guess.replaceableAt(conf) && guess.version.Depth() < evVer.Depth() {
				guess.set(evVer, conf, "")
			}
		}
	}

	if !guess.version.IsNone() {
		c, err := buildCPE(vendor, product, guess.version, maxDepth)
		if err != nil {
			return false, err
		}
		u := guess.url
		if u == "" && hasBroadMatch {
			u = infoURL(a.cfg.InfoURLBroad, vendor, product, "")
		}
		conf := guess.confidence
		if conf == "" {
			conf = model.Weakest
		}
		collected = append(collected, candidate{cpe: c, url: u, kind: BestGuess, confidence: conf})
	}

	return a.commit(d, collected), nil
}

// declaredCandidate builds an exact-match candidate from the dependency's
// declared version, provided the declared name is consistent with product.
func (a *Analyzer) declaredCandidate(d *model.Dependency, vendor, product string, maxDepth int, current model.Confidence) (candidate, bool, error) {
	if d.Version == "" {
		return candidate{}, false, nil
	}
	if d.Name != "" {
		for _, frag := range strings.Fields(product) {
			if !strings.Contains(d.Name, frag) && !index.IsStopWord(frag) {
				return candidate{}, false, nil
			}
		}
	}
	declared := version.New(d.Version)
	if declared.Depth() == 0 {
		return candidate{}, false, nil
	}
	c, err := buildCPE(vendor, product, declared, maxDepth)
	if err != nil {
		return candidate{}, false, err
	}
	return candidate{
		cpe:        c,
		url:        infoURL(a.cfg.InfoURL, vendor, product, c.Version),
		kind:       ExactMatch,
		confidence: current,
	}, true, nil
}

// buildCPE builds an application CPE, moving an update qualifier out of
// the version when the catalog's versions are three components deep.
func buildCPE(vendor, product string, v version.Version, maxDepth int) (cpe.CPE, error) {
	base, update := v.SplitUpdate(maxDepth)
	return cpe.NewBuilder().
		Part(cpe.Application).
		Vendor(vendor).
		Product(product).
		Version(base).
		Update(update).
		Build()
}

// extendedVersion joins a record's version and update qualifier, as in
// 2.3.15 + rc1 -> 2.3.15.rc1.
func extendedVersion(r cpe.CPE) (version.Version, bool) {
	if r.Update == "" || strings.HasPrefix(r.Update, cpe.Any) || strings.HasPrefix(r.Update, cpe.NA) {
		return version.ParseStrict(r.Version)
	}
	return version.Parse(r.Version + "." + r.Update)
}

// filterEcosystem drops records whose ecosystem tag rules them out for a
// dependency from eco.
func filterEcosystem(eco string, records []catalog.Record) []catalog.Record {
	if eco == "" {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if ecosystem.Compatible(eco, r.Ecosystem) {
			out = append(out, r)
		}
	}
	return out
}

// commit adds the best of the collected candidates to d and reports
// whether any of them survived suppression.
func (a *Analyzer) commit(d *model.Dependency, collected []candidate) bool {
	if len(collected) == 0 {
		return false
	}
	sortCandidates(collected)
	bestKind := collected[0].kind
	bestConf := collected[0].confidence
	prior := d.StrongestIdentifierConfidence()

	added := false
	for _, c := range collected {
		if c.kind != bestKind || c.confidence != bestConf {
			continue
		}
		conf := bestConf
		if bestKind == BestGuess {
			conf = model.Weakest
		}
		// Never weaken a dependency that already has a stronger identifier.
		if prior.StrongerThan(conf) {
			continue
		}
		d.AddIdentifier(model.Identifier{CPE: c.cpe, URL: c.url, Confidence: conf})
		if a.gate != nil {
			a.gate.Process(d)
		}
		if d.HasIdentifier(c.cpe) {
			added = true
			a.logger.Debug("added identifier",
				zap.String("dependency", d.Key()),
				zap.Stringer("cpe", c.cpe),
				zap.Stringer("match", c.kind),
				zap.String("confidence", string(conf)))
		}
		if bestKind == BestGuess {
			break
		}
	}
	return added
}
