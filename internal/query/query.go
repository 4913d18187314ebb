// Package query turns accumulated evidence terms into search text for the
// CPE index.
package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/StinkyLord/cpe-identifier/internal/evidence"
	"github.com/StinkyLord/cpe-identifier/internal/index"
)

// weightingBoost is added to a term's weight when it matches one of the
// dependency's weighting terms.
const weightingBoost = 1

var reNonAlpha = regexp.MustCompile(`[^A-Za-z]`)

// Build returns `product:(...) AND vendor:(...)`, or false when either
// side has no terms.
func Build(vendors, products *evidence.Terms, vendorWeightings, productWeightings []string) (string, bool) {
	if vendors == nil || products == nil || vendors.Len() == 0 || products.Len() == 0 {
		return "", false
	}
	var sb strings.Builder
	appendField(&sb, index.FieldProduct, products, productWeightings)
	sb.WriteString(" AND ")
	appendField(&sb, index.FieldVendor, vendors, vendorWeightings)
	return sb.String(), true
}

func appendField(sb *strings.Builder, field string, terms *evidence.Terms, weightings []string) {
	sb.WriteString(field)
	sb.WriteString(":(")
	var extra []string
	first := true
	terms.Each(func(phrase string, weight int) {
		for _, word := range strings.Fields(phrase) {
			if !first {
				sb.WriteByte(' ')
			}
			first = false
			sb.WriteString(escapeTerm(word))
			if boostTerm, ok := findBoostTerm(word, weightings); ok {
				boost := "^" + strconv.Itoa(weight+weightingBoost)
				sb.WriteString(boost)
				if boostTerm != word {
					extra = append(extra, escapeTerm(boostTerm)+boost)
				}
			} else if weight > 1 {
				sb.WriteString("^" + strconv.Itoa(weight))
			}
		}
	})
	for _, e := range extra {
		sb.WriteByte(' ')
		sb.WriteString(e)
	}
	sb.WriteByte(')')
}

func escapeTerm(word string) string {
	if index.IsKeyword(word) {
		return `"` + index.Escape(word) + `"`
	}
	return index.Escape(word)
}

// findBoostTerm returns the weighting term equal to word once both are
// lower cased and stripped of non-letters.
func findBoostTerm(word string, weightings []string) (string, bool) {
	w := strings.ToLower(reNonAlpha.ReplaceAllString(word, ""))
	for _, b := range weightings {
		if strings.ToLower(reNonAlpha.ReplaceAllString(b, "")) == w {
			return b, true
		}
	}
	return "", false
}
