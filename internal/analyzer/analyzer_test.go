package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/StinkyLord/cpe-identifier/internal/catalog"
	"github.com/StinkyLord/cpe-identifier/internal/cpe"
	"github.com/StinkyLord/cpe-identifier/internal/evidence"
	"github.com/StinkyLord/cpe-identifier/internal/index"
	"github.com/StinkyLord/cpe-identifier/internal/model"
)

func mustParse(t *testing.T, s string) cpe.CPE {
	t.Helper()
	c, err := cpe.Parse(s)
	if err != nil {
		t.Fatalf("cpe.Parse(%q): %v", s, err)
	}
	return c
}

// newAnalyzer builds the index from the catalog the same way the command
// line does.
func newAnalyzer(t *testing.T, records []catalog.Record, gate Suppressor, cfg Config) *Analyzer {
	t.Helper()
	a, idx, err := Prepare(context.Background(), catalog.NewMemory(records), gate, cfg, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return a
}

func strutsCatalog(t *testing.T) []catalog.Record {
	return []catalog.Record{
		{CPE: mustParse(t, "cpe:2.3:a:apache:struts:2.3.15:*:*:*:*:*:*:*")},
		{CPE: mustParse(t, "cpe:2.3:a:apache:struts:*:*:*:*:*:*:*:*")},
	}
}

func strutsDependency(versions ...string) *model.Dependency {
	d := &model.Dependency{FileName: "struts2-core-2.3.15.jar"}
	d.AddEvidence(model.Evidence{Type: model.Vendor, Confidence: model.Highest, Source: "pom", Name: "groupid", Value: "apache"})
	d.AddEvidence(model.Evidence{Type: model.Product, Confidence: model.Highest, Source: "pom", Name: "artifactid", Value: "struts2-core"})
	for _, v := range versions {
		d.AddEvidence(model.Evidence{Type: model.Version, Confidence: model.Highest, Source: "pom", Name: "version", Value: v})
	}
	return d
}

func cpeStrings(d *model.Dependency) []string {
	var out []string
	for _, id := range d.Identifiers() {
		out = append(out, id.CPE.String())
	}
	return out
}

func TestExactMatchPreferredOverBroadMatch(t *testing.T) {
	a := newAnalyzer(t, strutsCatalog(t), nil, Config{})
	d := strutsDependency("2.3.15")

	added, err := a.Analyze(context.Background(), d)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !added {
		t.Fatal("Analyze added no identifier")
	}
	ids := d.Identifiers()
	if len(ids) != 1 {
		t.Fatalf("got identifiers %v, want exactly one", cpeStrings(d))
	}
	if got, want := ids[0].CPE.String(), "cpe:2.3:a:apache:struts:2.3.15:*:*:*:*:*:*:*"; got != want {
		t.Errorf("identifier = %s, want %s", got, want)
	}
	if ids[0].Confidence != model.Highest {
		t.Errorf("confidence = %s, want %s", ids[0].Confidence, model.Highest)
	}
	if ids[0].URL == "" {
		t.Error("identifier has no info URL")
	}
}

func TestBroadMatchYieldsBestGuess(t *testing.T) {
	records := []catalog.Record{{CPE: mustParse(t, "cpe:2.3:a:apache:struts:*:*:*:*:*:*:*:*")}}
	a := newAnalyzer(t, records, nil, Config{InfoURLBroad: "https://example.com/{vendor}/{product}"})
	d := strutsDependency("2.3.16")

	if _, err := a.Analyze(context.Background(), d); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := []model.Identifier{{
		CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.16"),
		URL:        "https://example.com/apache/struts",
		Confidence: model.Low,
	}}
	if diff := cmp.Diff(want, d.Identifiers()); diff != "" {
		t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	a := newAnalyzer(t, strutsCatalog(t), nil, Config{})
	d := strutsDependency("2.3.15")
	ctx := context.Background()
	if _, err := a.Analyze(ctx, d); err != nil {
		t.Fatal(err)
	}
	first := d.Identifiers()
	if _, err := a.Analyze(ctx, d); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, d.Identifiers()); diff != "" {
		t.Errorf("second analysis changed identifiers (-first +second):\n%s", diff)
	}
}

func TestNeverCommitsWeakerIdentifier(t *testing.T) {
	records := []catalog.Record{{CPE: mustParse(t, "cpe:2.3:a:apache:struts:*:*:*:*:*:*:*:*")}}
	a := newAnalyzer(t, records, nil, Config{})
	d := strutsDependency("2.3.16")
	existing := mustParse(t, "cpe:2.3:a:apache:struts:2.3.15")
	d.AddIdentifier(model.Identifier{CPE: existing, Confidence: model.High})

	added, err := a.Analyze(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Errorf("Analyze added a best guess next to a stronger identifier: %v", cpeStrings(d))
	}
	if got := d.StrongestIdentifierConfidence(); got != model.High {
		t.Errorf("strongest confidence = %s, want %s", got, model.High)
	}
}

func TestDeclaredVersion(t *testing.T) {
	records := []catalog.Record{{CPE: mustParse(t, "cpe:2.3:a:apache:struts:2.3.15")}}
	a := newAnalyzer(t, records, nil, Config{})

	d := strutsDependency()
	d.Name = "struts2-core"
	d.Version = "2.3.16.2013"
	if _, err := a.Analyze(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	want := []string{"cpe:2.3:a:apache:struts:2.3.16:2013:*:*:*:*:*:*"}
	if diff := cmp.Diff(want, cpeStrings(d)); diff != "" {
		t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
	}

	// A declared name unrelated to the product disables the shortcut.
	other := strutsDependency()
	other.Name = "tomcat-embed"
	other.Version = "2.3.16"
	added, err := a.Analyze(context.Background(), other)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Errorf("declared version used despite unrelated name: %v", cpeStrings(other))
	}
}

func TestEcosystemFilter(t *testing.T) {
	records := []catalog.Record{
		{CPE: mustParse(t, "cpe:2.3:a:apache:struts:2.3.15"), Ecosystem: "node.js"},
	}
	a := newAnalyzer(t, records, nil, Config{})

	npm := strutsDependency("2.3.15")
	npm.Ecosystem = "npm"
	if added, _ := a.Analyze(context.Background(), npm); !added {
		t.Error("npm dependency did not match a node.js record")
	}

	java := strutsDependency("2.3.15")
	java.Ecosystem = "java"
	if added, _ := a.Analyze(context.Background(), java); added {
		t.Errorf("java dependency matched a node.js record: %v", cpeStrings(java))
	}

	untagged := strutsDependency("2.3.15")
	if added, _ := a.Analyze(context.Background(), untagged); !added {
		t.Error("dependency without ecosystem was filtered")
	}
}

func TestSkipEcosystems(t *testing.T) {
	a := newAnalyzer(t, strutsCatalog(t), nil, Config{SkipEcosystems: []string{"java"}})
	d := strutsDependency("2.3.15")
	d.Ecosystem = "java"
	if !a.Skips(d) {
		t.Error("Skips = false for a skipped ecosystem")
	}
	added, err := a.Analyze(context.Background(), d)
	if err != nil || added {
		t.Errorf("Analyze = %v, %v; want false, nil", added, err)
	}
}

type dropAll struct{ calls int }

func (g *dropAll) Process(d *model.Dependency) {
	g.calls++
	d.RemoveIdentifiers(func(model.Identifier) bool { return true })
}

func TestSuppressedIdentifierIsNotAdded(t *testing.T) {
	gate := &dropAll{}
	a := newAnalyzer(t, strutsCatalog(t), gate, Config{})
	d := strutsDependency("2.3.15")
	added, err := a.Analyze(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if added || len(d.Identifiers()) != 0 {
		t.Errorf("suppressed identifier reported as added: %v", cpeStrings(d))
	}
	if gate.calls == 0 {
		t.Error("suppression was never consulted")
	}
}

func TestBuildErrorIsFatalForDependency(t *testing.T) {
	// Records are not validated when built by hand.
	bad := cpe.CPE{Part: cpe.Application, Vendor: "apache", Product: "struts core"}
	a := newAnalyzer(t, []catalog.Record{{CPE: bad}}, nil, Config{})

	d := &model.Dependency{Version: "1.0"}
	d.AddEvidence(model.Evidence{Type: model.Vendor, Confidence: model.Highest, Value: "apache"})
	d.AddEvidence(model.Evidence{Type: model.Product, Confidence: model.Highest, Value: "struts core"})

	_, err := a.Analyze(context.Background(), d)
	var ae *AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("Analyze error = %v, want *AnalysisError", err)
	}
	var be *cpe.BuildError
	if !errors.As(err, &be) {
		t.Errorf("Analyze error = %v, want a wrapped *cpe.BuildError", err)
	}
}

func TestNoEvidence(t *testing.T) {
	a := newAnalyzer(t, strutsCatalog(t), nil, Config{})
	d := &model.Dependency{Name: "empty"}
	added, err := a.Analyze(context.Background(), d)
	if err != nil || added {
		t.Errorf("Analyze = %v, %v; want false, nil", added, err)
	}
}

func TestInfoURL(t *testing.T) {
	got := infoURL("https://x/{vendor}/{product}?v={version}", "a b", "c&d", "1.0")
	if want := "https://x/a+b/c%26d?v=1.0"; got != want {
		t.Errorf("infoURL = %q, want %q", got, want)
	}
}

func TestSearchScoreFilter(t *testing.T) {
	vendors, products := evidence.NewTerms(), evidence.NewTerms()
	vendors.Add("apache")
	products.Add("struts")

	a := newAnalyzer(t, strutsCatalog(t), nil, Config{MinScore: 1e9})
	hits, err := a.Search(vendors, products, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits with filtering disabled, want 1", len(hits))
	}

	a = newAnalyzer(t, strutsCatalog(t), nil, Config{MinScore: 1e9, EnforceMinScore: true})
	hits, err = a.Search(vendors, products, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits under an unreachable minimum score, want 0", len(hits))
	}

	if hits, err := a.Search(evidence.NewTerms(), products, nil, nil); hits != nil || err != nil {
		t.Errorf("Search without vendor terms = %v, %v; want nil, nil", hits, err)
	}
}

// ============================================================================
// Version reconciliation
// ============================================================================

type versionEvidence struct {
	value string
	conf  model.Confidence
}

func TestVersionReconciliation(t *testing.T) {
	narrow := func(v string) string { return infoURL(DefaultInfoURL, "apache", "struts", v) }
	tests := []struct {
		name     string
		records  []string
		versions []versionEvidence
		want     []model.Identifier
	}{
		{
			name:     "update stripped base version matches a record",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.15", "cpe:2.3:a:apache:struts:2.3.14"},
			versions: []versionEvidence{{"2.3.15.beta1", model.Highest}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.15"),
				URL:        narrow("2.3.15"),
				Confidence: model.Low,
			}},
		},
		{
			name:     "no record for the base version",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.14"},
			versions: []versionEvidence{{"2.3.15.beta1", model.Highest}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.15:beta"),
				Confidence: model.Low,
			}},
		},
		{
			name:     "record update qualifier extends a shallower guess",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.15:2", "cpe:2.3:a:apache:struts:2.3.14"},
			versions: []versionEvidence{{"2.3.15.1", model.Highest}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.15"),
				URL:        narrow("2.3.15"),
				Confidence: model.Low,
			}},
		},
		{
			name:     "evidence deeper than every record",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.14"},
			versions: []versionEvidence{{"2.3.15.1", model.Highest}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.15.1"),
				Confidence: model.Low,
			}},
		},
		{
			name:     "record with update qualifier matches exactly",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.15:rc1"},
			versions: []versionEvidence{{"2.3.15.rc1", model.Highest}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.15:rc1"),
				URL:        narrow("2.3.15"),
				Confidence: model.Highest,
			}},
		},
		{
			name:     "tie keeps the first guess",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.14"},
			versions: []versionEvidence{{"2.3.15.beta1", model.High}, {"2.3.16.beta1", model.High}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.15:beta"),
				Confidence: model.Low,
			}},
		},
		{
			name:     "tie keeps the first guess in reverse order",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.14"},
			versions: []versionEvidence{{"2.3.16.beta1", model.High}, {"2.3.15.beta1", model.High}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.16:beta"),
				Confidence: model.Low,
			}},
		},
		{
			name:     "deeper evidence at a weaker tier does not replace the guess",
			records:  []string{"cpe:2.3:a:apache:struts:2.3.14"},
			versions: []versionEvidence{{"2.3.16.beta1", model.Medium}, {"2.3.15", model.Highest}},
			want: []model.Identifier{{
				CPE:        mustParse(t, "cpe:2.3:a:apache:struts:2.3.15"),
				Confidence: model.Low,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []catalog.Record
			for _, r := range tt.records {
				records = append(records, catalog.Record{CPE: mustParse(t, r)})
			}
			a := newAnalyzer(t, records, nil, Config{})
			d := strutsDependency()
			for _, v := range tt.versions {
				d.AddEvidence(model.Evidence{Type: model.Version, Confidence: v.conf, Source: "manifest", Name: "version", Value: v.value})
			}

			added, err := a.Analyze(context.Background(), d)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if !added {
				t.Fatal("Analyze added no identifier")
			}
			if diff := cmp.Diff(tt.want, d.Identifiers()); diff != "" {
				t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeclaredVersionAndStarRecordDoNotDuplicate(t *testing.T) {
	// Catalog snapshots may spell ANY as "*" instead of leaving it empty.
	star := cpe.CPE{
		Part: cpe.Application, Vendor: "apache", Product: "struts", Version: "2.3.15",
		Update: cpe.Any, Edition: cpe.Any, Language: cpe.Any, SWEdition: cpe.Any,
		TargetSW: cpe.Any, TargetHW: cpe.Any, Other: cpe.Any,
	}
	a := newAnalyzer(t, []catalog.Record{{CPE: star}}, nil, Config{})
	d := strutsDependency("2.3.15")
	d.Name = "struts2-core"
	d.Version = "2.3.15"

	if _, err := a.Analyze(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	want := []string{"cpe:2.3:a:apache:struts:2.3.15:*:*:*:*:*:*:*"}
	if diff := cmp.Diff(want, cpeStrings(d)); diff != "" {
		t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
	}
}

// ============================================================================
// Selection
// ============================================================================

func TestCommit(t *testing.T) {
	c := func(s string, kind MatchKind, conf model.Confidence) candidate {
		return candidate{cpe: mustParse(t, s), kind: kind, confidence: conf}
	}
	id := func(s string, conf model.Confidence) model.Identifier {
		return model.Identifier{CPE: mustParse(t, s), Confidence: conf}
	}
	tests := []struct {
		name       string
		candidates []candidate
		wantAdded  bool
		want       []model.Identifier
	}{
		{
			name:      "nothing collected",
			wantAdded: false,
			want:      []model.Identifier{},
		},
		{
			name: "exact beats best guess and broad match",
			candidates: []candidate{
				c("cpe:2.3:a:apache:struts", BroadMatch, model.Highest),
				c("cpe:2.3:a:apache:struts:2.3.16", BestGuess, model.High),
				c("cpe:2.3:a:apache:struts:2.3.15", ExactMatch, model.Medium),
			},
			wantAdded: true,
			want:      []model.Identifier{id("cpe:2.3:a:apache:struts:2.3.15", model.Medium)},
		},
		{
			name: "tied best guesses commit only the first",
			candidates: []candidate{
				c("cpe:2.3:a:apache:struts:2.3.17", BestGuess, model.Highest),
				c("cpe:2.3:a:apache:struts:2.3.16", BestGuess, model.Highest),
			},
			wantAdded: true,
			want:      []model.Identifier{id("cpe:2.3:a:apache:struts:2.3.16", model.Low)},
		},
		{
			name: "exact matches from another tier are left out",
			candidates: []candidate{
				c("cpe:2.3:a:apache:struts:2.3.16", ExactMatch, model.Medium),
				c("cpe:2.3:a:apache:struts:2.3.15", ExactMatch, model.High),
			},
			wantAdded: true,
			want:      []model.Identifier{id("cpe:2.3:a:apache:struts:2.3.15", model.High)},
		},
		{
			name: "exact matches from the same tier all commit",
			candidates: []candidate{
				c("cpe:2.3:a:apache:struts:2.3.16", ExactMatch, model.High),
				c("cpe:2.3:a:apache:struts:2.3.15", ExactMatch, model.High),
			},
			wantAdded: true,
			want: []model.Identifier{
				id("cpe:2.3:a:apache:struts:2.3.15", model.High),
				id("cpe:2.3:a:apache:struts:2.3.16", model.High),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(nil, nil, nil, Config{}, nil)
			d := &model.Dependency{Name: "struts2-core"}
			if got := a.commit(d, tt.candidates); got != tt.wantAdded {
				t.Errorf("commit = %v, want %v", got, tt.wantAdded)
			}
			if diff := cmp.Diff(tt.want, d.Identifiers()); diff != "" {
				t.Errorf("identifiers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// ============================================================================
// Degraded catalog
// ============================================================================

type failingCatalog struct{ calls int }

func (f *failingCatalog) Lookup(ctx context.Context, vendor, product string) ([]catalog.Record, error) {
	f.calls++
	return nil, errors.New("disk I/O error")
}

func TestLookupErrorIsLoggedAndSkipped(t *testing.T) {
	ctx := context.Background()
	idx, err := index.Open(ctx, catalog.NewMemory(strutsCatalog(t)), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	cat := &failingCatalog{}
	a := New(idx, cat, nil, Config{}, zap.New(core))
	d := strutsDependency("2.3.15")

	added, err := a.Analyze(ctx, d)
	if err != nil {
		t.Fatalf("Analyze error = %v, want nil", err)
	}
	if added {
		t.Errorf("Analyze added %v from a failing catalog", cpeStrings(d))
	}
	if cat.calls == 0 {
		t.Fatal("catalog was never consulted")
	}
	entries := logs.FilterMessage("catalog lookup failed").All()
	if len(entries) != cat.calls {
		t.Fatalf("got %d lookup warnings, want %d", len(entries), cat.calls)
	}
	fields := entries[0].ContextMap()
	if fields["vendor"] != "apache" || fields["product"] != "struts" {
		t.Errorf("warning fields = %v, want vendor apache and product struts", fields)
	}
}
