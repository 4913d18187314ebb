package suppression

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/multierr"

	"github.com/StinkyLord/cpe-identifier/internal/cpe"
	"github.com/StinkyLord/cpe-identifier/internal/model"
)

const userRules = `
suppress:
  - notes: struts2-core is not struts 1
    package_name: '^struts2-'
    cpe: 'cpe:2.3:a:apache:struts:1.'
  - notes: nothing from example.com is tomcat
    purl: '^pkg:maven/com\.example/'
    cpe_regex: ':tomcat:'
`

func mustParse(t *testing.T, s string) cpe.CPE {
	t.Helper()
	c, err := cpe.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func dependency(t *testing.T, name, purl string, cpes ...string) *model.Dependency {
	d := &model.Dependency{Name: name, PURL: purl}
	for _, c := range cpes {
		d.AddIdentifier(model.Identifier{CPE: mustParse(t, c), Confidence: model.High})
	}
	return d
}

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(userRules))
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].PackageName == nil || rules[0].CPE != "cpe:2.3:a:apache:struts:1." {
		t.Errorf("rule 0 = %+v", rules[0])
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"suppress: [{notes: no selector}]",
		"suppress: [{cpe_regex: '(' }]",
		"suppress: {",
	}
	for _, b := range bad {
		if _, err := Parse([]byte(b)); !errors.Is(err, ErrLoad) {
			t.Errorf("Parse(%q) = %v, want ErrLoad", b, err)
		}
	}
}

func TestProcess(t *testing.T) {
	rules, err := Parse([]byte(userRules))
	if err != nil {
		t.Fatal(err)
	}
	g := NewGate(rules, nil)

	d := dependency(t, "struts2-core", "pkg:maven/org.apache.struts/struts2-core@2.3.15",
		"cpe:2.3:a:apache:struts:1.3.10",
		"cpe:2.3:a:apache:struts:2.3.15")
	g.Process(d)
	ids := d.Identifiers()
	if len(ids) != 1 || ids[0].CPE.Version != "2.3.15" {
		t.Fatalf("after Process identifiers = %+v", ids)
	}
	g.Process(d)
	if len(d.Identifiers()) != 1 {
		t.Error("second Process changed the identifiers")
	}

	other := dependency(t, "struts-core", "", "cpe:2.3:a:apache:struts:1.3.10")
	g.Process(other)
	if len(other.Identifiers()) != 1 {
		t.Error("rule applied to a dependency its package selector does not match")
	}

	ex := dependency(t, "widget", "pkg:maven/com.example/widget@1.0", "cpe:2.3:a:apache:tomcat:9.0")
	g.Process(ex)
	if len(ex.Identifiers()) != 0 {
		t.Error("cpe_regex rule did not remove tomcat")
	}
}

func TestBaseRules(t *testing.T) {
	g, err := Load(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g.Rules()) == 0 {
		t.Fatal("no base rules loaded")
	}
	for _, r := range g.Rules() {
		if !r.Base {
			t.Errorf("base rule not marked base: %+v", r)
		}
	}
}

func TestLoadUserFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte(userRules), 0o644); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("suppress: [{notes: x}]"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.yaml")

	base, err := Load(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	g, err := Load(context.Background(), Options{Files: []string{good, broken, missing}})
	if g == nil {
		t.Fatal("Load returned no gate")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Errorf("got %d warnings, want 2: %v", got, err)
	}
	if !errors.Is(err, ErrLoad) {
		t.Errorf("warning %v does not wrap ErrLoad", err)
	}
	if got, want := len(g.Rules()), len(base.Rules())+2; got != want {
		t.Errorf("got %d rules, want %d", got, want)
	}
}

func TestLoadRemoteRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(userRules))
	}))
	defer srv.Close()

	g, err := Load(context.Background(), Options{Files: []string{srv.URL + "/rules.yaml"}, Retries: 2})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
	base, _ := Load(context.Background(), Options{})
	if got, want := len(g.Rules()), len(base.Rules())+2; got != want {
		t.Errorf("got %d rules, want %d", got, want)
	}
}

func TestLoadRemoteGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g, err := Load(context.Background(), Options{Files: []string{srv.URL}, Retries: 0})
	if g == nil || err == nil {
		t.Fatalf("Load = %v, %v; want a gate and a warning", g, err)
	}
}
