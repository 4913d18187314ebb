package cpe

import "fmt"

// BuildError reports a CPE that could not be constructed for a
// vendor/product/version triple.
type BuildError struct {
	Vendor  string
	Product string
	Version string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("unable to create a CPE for %s:%s:%s: %v", e.Vendor, e.Product, e.Version, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder assembles a CPE attribute by attribute and validates it on Build.
type Builder struct {
	c CPE
}

// NewBuilder returns a Builder for an application CPE.
func NewBuilder() *Builder {
	return &Builder{c: CPE{Part: Application}}
}

func (b *Builder) Part(p Part) *Builder {
	b.c.Part = p
	return b
}

func (b *Builder) Vendor(v string) *Builder {
	b.c.Vendor = v
	return b
}

func (b *Builder) Product(p string) *Builder {
	b.c.Product = p
	return b
}

func (b *Builder) Version(v string) *Builder {
	b.c.Version = v
	return b
}

func (b *Builder) Update(u string) *Builder {
	b.c.Update = u
	return b
}

// Build validates the accumulated attributes. A failure is returned as a
// *BuildError wrapping ErrInvalid.
func (b *Builder) Build() (CPE, error) {
	if err := b.c.Validate(); err != nil {
		return CPE{}, &BuildError{Vendor: b.c.Vendor, Product: b.c.Product, Version: b.c.Version, Err: err}
	}
	return b.c, nil
}
