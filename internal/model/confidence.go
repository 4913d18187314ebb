package model

import (
	"fmt"
	"strings"
)

// Confidence is the reliability tier attached to evidence and to the
// identifiers derived from it.
type Confidence string

const (
	Highest Confidence = "HIGHEST"
	High    Confidence = "HIGH"
	Medium  Confidence = "MEDIUM"
	Low     Confidence = "LOW"
)

// confidenceRank orders tiers explicitly. Higher = more reliable.
var confidenceRank = map[Confidence]int{
	Highest: 4,
	High:    3,
	Medium:  2,
	Low:     1,
}

// Tiers lists every confidence tier, strongest first. The identification
// engine walks evidence in this order.
var Tiers = []Confidence{Highest, High, Medium, Low}

// Weakest is the lowest confidence tier.
const Weakest = Low

// Rank returns the numeric rank of c; unknown values rank 0.
func (c Confidence) Rank() int {
	return confidenceRank[c]
}

// StrongerThan reports whether c is strictly more reliable than o.
func (c Confidence) StrongerThan(o Confidence) bool {
	return c.Rank() > o.Rank()
}

// ParseConfidence accepts the tier names case-insensitively.
func ParseConfidence(s string) (Confidence, error) {
	for _, c := range Tiers {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown confidence %q", s)
}
