// Package suppression removes identifiers known to be false positives.
package suppression

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/StinkyLord/cpe-identifier/internal/model"
)

// ErrLoad is wrapped by every rule loading failure.
var ErrLoad = errors.New("unable to load suppression rules")

//go:embed base.yaml
var baseRules []byte

// Rule suppresses identifiers on matching dependencies. Every package
// selector that is set must match; then every identifier selected by CPE
// or CPERegex is removed.
type Rule struct {
	Notes       string
	PackageName *regexp.Regexp
	PURL        *regexp.Regexp
	CPE         string // prefix of the formatted CPE
	CPERegex    *regexp.Regexp
	Base        bool
}

type ruleFile struct {
	Suppress []ruleEntry `yaml:"suppress"`
}

type ruleEntry struct {
	Notes       string `yaml:"notes"`
	PackageName string `yaml:"package_name"`
	PURL        string `yaml:"purl"`
	CPE         string `yaml:"cpe"`
	CPERegex    string `yaml:"cpe_regex"`
	Base        bool   `yaml:"base"`
}

// Parse decodes a YAML rule file.
func Parse(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	rules := make([]Rule, 0, len(f.Suppress))
	for i, e := range f.Suppress {
		r, err := e.compile()
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrLoad, i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (e ruleEntry) compile() (Rule, error) {
	r := Rule{Notes: e.Notes, CPE: strings.ToLower(e.CPE), Base: e.Base}
	if e.CPE == "" && e.CPERegex == "" {
		return Rule{}, errors.New("rule selects no identifiers: set cpe or cpe_regex")
	}
	var err error
	compile := func(expr string) *regexp.Regexp {
		if expr == "" || err != nil {
			return nil
		}
		var re *regexp.Regexp
		re, err = regexp.Compile(expr)
		return re
	}
	r.PackageName = compile(e.PackageName)
	r.PURL = compile(e.PURL)
	r.CPERegex = compile(e.CPERegex)
	if err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Applies reports whether the rule's package selectors match d.
func (r Rule) Applies(d *model.Dependency) bool {
	if r.PackageName != nil && !r.PackageName.MatchString(d.Name) {
		return false
	}
	if r.PURL != nil && !r.PURL.MatchString(d.PURL) {
		return false
	}
	return true
}

// Selects reports whether the rule removes id.
func (r Rule) Selects(id model.Identifier) bool {
	s := id.CPE.String()
	if r.CPE != "" && strings.HasPrefix(s, r.CPE) {
		return true
	}
	return r.CPERegex != nil && r.CPERegex.MatchString(s)
}

// Gate applies suppression rules to dependencies. It is immutable after
// construction and safe for concurrent use on distinct dependencies.
type Gate struct {
	rules  []Rule
	logger *zap.Logger
}

// Options configures Load.
type Options struct {
	// Files are paths or http(s) URLs of user rule files.
	Files []string
	// Retries is how many times a failed download is retried.
	Retries uint64
	Client  *http.Client
	Logger  *zap.Logger
}

// NewGate returns a gate over rules.
func NewGate(rules []Rule, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{rules: rules, logger: logger}
}

// Load builds a gate from the embedded base rules plus the user files.
// A broken base rule set is fatal. User files that fail to load are
// skipped; their errors are combined into the returned warning, and the
// gate is still usable.
func Load(ctx context.Context, opts Options) (*Gate, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := Parse(baseRules)
	if err != nil {
		return nil, fmt.Errorf("base rules: %w", err)
	}
	for i := range base {
		base[i].Base = true
	}
	rules := base

	var warnings error
	for _, f := range opts.Files {
		data, err := read(ctx, f, opts)
		if err != nil {
			warnings = multierr.Append(warnings, fmt.Errorf("%w: %s: %v", ErrLoad, f, err))
			continue
		}
		user, err := Parse(data)
		if err != nil {
			warnings = multierr.Append(warnings, fmt.Errorf("%s: %w", f, err))
			continue
		}
		logger.Debug("loaded suppression rules", zap.String("file", f), zap.Int("rules", len(user)))
		rules = append(rules, user...)
	}
	return NewGate(rules, logger), warnings
}

func read(ctx context.Context, location string, opts Options) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return download(ctx, location, opts)
	}
	return os.ReadFile(location)
}

func download(ctx context.Context, url string, opts Options) ([]byte, error) {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	var data []byte
	err := backoff.RetryNotify(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		data, err = io.ReadAll(resp.Body)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, opts.Retries), ctx), func(err error, wait time.Duration) {
		logger.Warn("retrying suppression file download", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Rules returns the gate's rules.
func (g *Gate) Rules() []Rule {
	return append([]Rule(nil), g.rules...)
}

// Process removes every identifier of d that an applicable rule selects.
// Running it again on the same dependency changes nothing.
func (g *Gate) Process(d *model.Dependency) {
	for _, r := range g.rules {
		if !r.Applies(d) {
			continue
		}
		if n := d.RemoveIdentifiers(r.Selects); n > 0 {
			g.logger.Debug("suppressed identifiers",
				zap.String("dependency", d.Key()), zap.Int("removed", n), zap.String("notes", r.Notes))
		}
	}
}
