// Package cpe models Common Platform Enumeration names as stored in the
// vulnerability catalog and binds them to the CPE 2.3 formatted string.
package cpe

import (
	"errors"
	"fmt"
	"strings"
)

// Part is the CPE part attribute.
type Part string

const (
	Application     Part = "a"
	OperatingSystem Part = "o"
	Hardware        Part = "h"
)

const (
	// Any is the logical ANY value; an empty attribute binds to it.
	Any = "*"
	// NA is the logical NOT APPLICABLE value.
	NA = "-"
)

// ErrInvalid is returned when a CPE attribute fails structural validation.
var ErrInvalid = errors.New("invalid cpe")

// CPE is a well-formed CPE name. Empty attributes mean ANY.
type CPE struct {
	Part      Part
	Vendor    string
	Product   string
	Version   string
	Update    string
	Edition   string
	Language  string
	SWEdition string
	TargetSW  string
	TargetHW  string
	Other     string
}

func (c CPE) attributes() []string {
	return []string{
		c.Vendor, c.Product, c.Version, c.Update, c.Edition,
		c.Language, c.SWEdition, c.TargetSW, c.TargetHW, c.Other,
	}
}

// String binds c to the CPE 2.3 formatted string, e.g.
// cpe:2.3:a:apache:struts:2.3.15:*:*:*:*:*:*:*
func (c CPE) String() string {
	var sb strings.Builder
	sb.WriteString("cpe:2.3:")
	if c.Part == "" {
		sb.WriteString(Any)
	} else {
		sb.WriteString(string(c.Part))
	}
	for _, a := range c.attributes() {
		sb.WriteByte(':')
		sb.WriteString(bindValue(a))
	}
	return sb.String()
}

// Compare orders CPEs attribute by attribute, part first. Attributes are
// compared in their bound form, so "" and "*" are both ANY and two CPEs
// compare equal exactly when their String forms are equal.
func Compare(a, b CPE) int {
	if c := strings.Compare(bindValue(string(a.Part)), bindValue(string(b.Part))); c != 0 {
		return c
	}
	aa, ba := a.attributes(), b.attributes()
	for i := range aa {
		if c := strings.Compare(bindValue(aa[i]), bindValue(ba[i])); c != 0 {
			return c
		}
	}
	return 0
}

// Parse unbinds a CPE 2.3 formatted string. Missing trailing attributes are
// treated as ANY.
func Parse(s string) (CPE, error) {
	if !strings.HasPrefix(s, "cpe:2.3:") {
		return CPE{}, fmt.Errorf("%w: %q does not start with cpe:2.3:", ErrInvalid, s)
	}
	fields := splitUnescaped(s[len("cpe:2.3:"):])
	if len(fields) < 3 || len(fields) > 11 {
		return CPE{}, fmt.Errorf("%w: %q has %d attributes", ErrInvalid, s, len(fields))
	}
	for len(fields) < 11 {
		fields = append(fields, Any)
	}
	for i := range fields {
		fields[i] = unbindValue(fields[i])
	}
	c := CPE{
		Part:      Part(fields[0]),
		Vendor:    fields[1],
		Product:   fields[2],
		Version:   fields[3],
		Update:    fields[4],
		Edition:   fields[5],
		Language:  fields[6],
		SWEdition: fields[7],
		TargetSW:  fields[8],
		TargetHW:  fields[9],
		Other:     fields[10],
	}
	if err := c.Validate(); err != nil {
		return CPE{}, err
	}
	return c, nil
}

// Validate checks that c is structurally well formed: a known part, a
// vendor and product, and attribute values free of whitespace, control
// characters and embedded wildcards.
func (c CPE) Validate() error {
	switch c.Part {
	case Application, OperatingSystem, Hardware:
	default:
		return fmt.Errorf("%w: part %q", ErrInvalid, c.Part)
	}
	if c.Vendor == "" || c.Vendor == Any {
		return fmt.Errorf("%w: vendor is required", ErrInvalid)
	}
	if c.Product == "" || c.Product == Any {
		return fmt.Errorf("%w: product is required", ErrInvalid)
	}
	names := []string{"vendor", "product", "version", "update", "edition",
		"language", "sw_edition", "target_sw", "target_hw", "other"}
	for i, a := range c.attributes() {
		if err := validateValue(a); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalid, names[i], a, err)
		}
	}
	return nil
}

func validateValue(v string) error {
	if v == "" || v == Any || v == NA {
		return nil
	}
	for i := 0; i < len(v); i++ {
		b := v[i]
		switch {
		case b <= ' ' || b >= 0x7f:
			return errors.New("contains whitespace, control or non-ascii characters")
		case b == '*' || b == '?':
			return errors.New("embedded wildcard")
		}
	}
	return nil
}

// specialChars are the characters quoted with a backslash in the formatted
// string binding.
const specialChars = `\!"#$%&'()+,/:;<=>@[]^` + "`" + `{|}~*?`

func bindValue(v string) string {
	if v == "" || v == Any {
		return Any
	}
	if v == NA {
		return NA
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(v) {
		if strings.ContainsRune(specialChars, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func unbindValue(v string) string {
	if v == Any {
		return ""
	}
	if !strings.Contains(v, `\`) {
		return v
	}
	var sb strings.Builder
	escaped := false
	for _, r := range v {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func splitUnescaped(s string) []string {
	var fields []string
	start := 0
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == ':':
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	return append(fields, s[start:])
}
