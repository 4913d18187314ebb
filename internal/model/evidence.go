package model

import (
	"fmt"
	"strings"
)

// EvidenceType says which part of an identifier a piece of evidence hints at.
type EvidenceType string

const (
	Vendor  EvidenceType = "VENDOR"
	Product EvidenceType = "PRODUCT"
	Version EvidenceType = "VERSION"
)

// ParseEvidenceType accepts "vendor", "product" or "version" in any case.
func ParseEvidenceType(s string) (EvidenceType, error) {
	for _, t := range []EvidenceType{Vendor, Product, Version} {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown evidence type %q", s)
}

// Evidence is a single fact collected about a dependency by an upstream
// analyzer. It is never modified once created.
type Evidence struct {
	Type       EvidenceType
	Confidence Confidence
	Source     string // e.g. "manifest", "pom"
	Name       string // e.g. "Implementation-Vendor"
	Value      string
}
