package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/StinkyLord/cpe-identifier/internal/cpe"
)

const schema = `
CREATE TABLE IF NOT EXISTS cpe_entry (
	part           TEXT NOT NULL,
	vendor         TEXT NOT NULL,
	product        TEXT NOT NULL,
	version        TEXT NOT NULL DEFAULT '',
	update_version TEXT NOT NULL DEFAULT '',
	edition        TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	sw_edition     TEXT NOT NULL DEFAULT '',
	target_sw      TEXT NOT NULL DEFAULT '',
	target_hw      TEXT NOT NULL DEFAULT '',
	other          TEXT NOT NULL DEFAULT '',
	ecosystem      TEXT
);
CREATE INDEX IF NOT EXISTS idx_cpe_entry_vendor_product ON cpe_entry(vendor, product);
`

var requiredColumns = []string{"part", "vendor", "product", "version", "update_version", "ecosystem"}

// SQLite reads a catalog snapshot stored in a SQLite database.
// database/sql pools connections, so concurrent lookups need no locking here.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens an existing snapshot and checks its schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving catalog path %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database %s: %w", absPath, err)
	}
	s := &SQLite{db: db}
	if err := s.validate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid catalog database %s: %w", absPath, err)
	}
	return s, nil
}

// CreateSQLite creates (or reuses) a snapshot at path and writes records
// into it.
func CreateSQLite(ctx context.Context, path string, records []Record) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog database %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.Insert(ctx, records); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Insert adds records in a single transaction.
func (s *SQLite) Insert(ctx context.Context, records []Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting catalog transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cpe_entry
		(part, vendor, product, version, update_version, edition, language, sw_edition, target_sw, target_hw, other, ecosystem)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing catalog insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		c := r.CPE
		var eco sql.NullString
		if r.Ecosystem != "" {
			eco = sql.NullString{String: r.Ecosystem, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, string(c.Part), c.Vendor, c.Product, c.Version, c.Update,
			c.Edition, c.Language, c.SWEdition, c.TargetSW, c.TargetHW, c.Other, eco); err != nil {
			return fmt.Errorf("inserting %s: %w", c, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) validate(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('cpe_entry')`)
	if err != nil {
		return fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan column name: %w", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, col := range requiredColumns {
		if !found[col] {
			return fmt.Errorf("table cpe_entry is missing column %q", col)
		}
	}
	return nil
}

// Lookup returns every record for vendor and product.
func (s *SQLite) Lookup(ctx context.Context, vendor, product string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT part, vendor, product, version, update_version,
		edition, language, sw_edition, target_sw, target_hw, other, ecosystem
		FROM cpe_entry WHERE vendor = ? AND product = ?`, vendor, product)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var part string
		var eco sql.NullString
		c := &r.CPE
		if err := rows.Scan(&part, &c.Vendor, &c.Product, &c.Version, &c.Update,
			&c.Edition, &c.Language, &c.SWEdition, &c.TargetSW, &c.TargetHW, &c.Other, &eco); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		c.Part = cpe.Part(part)
		// Snapshots exported from the NVD dictionary store ANY as "*".
		for _, f := range []*string{&c.Version, &c.Update, &c.Edition, &c.Language,
			&c.SWEdition, &c.TargetSW, &c.TargetHW, &c.Other} {
			if *f == cpe.Any {
				*f = ""
			}
		}
		if eco.Valid {
			r.Ecosystem = eco.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// VendorProducts returns the distinct pairs, sorted.
func (s *SQLite) VendorProducts(ctx context.Context) ([]VendorProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT vendor, product FROM cpe_entry ORDER BY vendor, product`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor/product pairs: %w", err)
	}
	defer rows.Close()
	var out []VendorProduct
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reading vendor/product pairs halted: %w", err)
		}
		var vp VendorProduct
		if err := rows.Scan(&vp.Vendor, &vp.Product); err != nil {
			return nil, fmt.Errorf("failed to scan vendor/product row: %w", err)
		}
		out = append(out, vp)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
