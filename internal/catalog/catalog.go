// Package catalog provides read access to the vulnerability catalog: the
// set of known CPE records, keyed by vendor and product.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/StinkyLord/cpe-identifier/internal/cpe"
)

// Record is a catalog entry with its optional ecosystem tag.
type Record struct {
	CPE       cpe.CPE
	Ecosystem string
}

// VendorProduct is one distinct vendor/product pair in the catalog.
type VendorProduct struct {
	Vendor  string
	Product string
}

// Catalog is the read-only view the identification engine needs. Both
// methods must be safe for concurrent use.
type Catalog interface {
	Lookup(ctx context.Context, vendor, product string) ([]Record, error)
	VendorProducts(ctx context.Context) ([]VendorProduct, error)
	Close() error
}

// Memory is an in-memory catalog. It is immutable once built.
type Memory struct {
	byPair map[VendorProduct][]Record
}

// NewMemory indexes records by vendor and product.
func NewMemory(records []Record) *Memory {
	m := &Memory{byPair: map[VendorProduct][]Record{}}
	for _, r := range records {
		vp := VendorProduct{Vendor: r.CPE.Vendor, Product: r.CPE.Product}
		m.byPair[vp] = append(m.byPair[vp], r)
	}
	return m
}

// Lookup returns a copy of the records for vendor and product.
func (m *Memory) Lookup(_ context.Context, vendor, product string) ([]Record, error) {
	rs := m.byPair[VendorProduct{Vendor: vendor, Product: product}]
	out := make([]Record, len(rs))
	copy(out, rs)
	return out, nil
}

// VendorProducts returns the distinct pairs, sorted.
func (m *Memory) VendorProducts(context.Context) ([]VendorProduct, error) {
	out := make([]VendorProduct, 0, len(m.byPair))
	for vp := range m.byPair {
		out = append(out, vp)
	}
	sortPairs(out)
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func sortPairs(ps []VendorProduct) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Vendor != ps[j].Vendor {
			return ps[i].Vendor < ps[j].Vendor
		}
		return ps[i].Product < ps[j].Product
	})
}

// fileEntry is one element of a YAML or JSON catalog file.
type fileEntry struct {
	CPE       string `yaml:"cpe"`
	Ecosystem string `yaml:"ecosystem"`
}

// ParseRecords decodes a YAML (or JSON) list of {cpe, ecosystem} entries.
func ParseRecords(data []byte) ([]Record, error) {
	var entries []fileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding catalog entries: %w", err)
	}
	records := make([]Record, 0, len(entries))
	for i, e := range entries {
		c, err := cpe.Parse(e.CPE)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		records = append(records, Record{CPE: c, Ecosystem: e.Ecosystem})
	}
	return records, nil
}

// Open opens the catalog at path: SQLite snapshots by their .db, .sqlite
// or .sqlite3 extension, anything else as a YAML/JSON entry list.
func Open(ctx context.Context, path string) (Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	records, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}
	return NewMemory(records), nil
}
