// Package verify checks search hits against a dependency's raw evidence.
package verify

import (
	"regexp"
	"strings"

	"github.com/StinkyLord/cpe-identifier/internal/index"
	"github.com/StinkyLord/cpe-identifier/internal/model"
)

var reSplit = regexp.MustCompile(`[\s_-]`)

// Entry reports whether both vendor and product are backed by the
// dependency's vendor and product evidence respectively.
func Entry(d *model.Dependency, vendor, product string) bool {
	return Contains(d.AllEvidence(model.Product), product) &&
		Contains(d.AllEvidence(model.Vendor), vendor)
}

// Contains reports whether every significant word of text appears, case
// insensitively, in at least one evidence value.
func Contains(evidence []model.Evidence, text string) bool {
	words := Words(text)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !anyContains(evidence, w) {
			return false
		}
	}
	return true
}

func anyContains(evidence []model.Evidence, word string) bool {
	lw := strings.ToLower(word)
	for _, e := range evidence {
		if !strings.Contains(strings.ToLower(e.Value), lw) {
			continue
		}
		// A URL does not vouch for "http".
		if word == "http" && strings.Contains(e.Value, "http:") {
			continue
		}
		return true
	}
	return false
}

// Words splits text on whitespace, underscores and hyphens. Words of two
// characters or fewer are joined to the following word, or to the previous
// one when last; stop words are dropped.
func Words(text string) []string {
	var words []string
	var pending *string
	for _, w := range reSplit.Split(text, -1) {
		switch {
		case pending != nil:
			words = append(words, *pending+w)
			pending = nil
		case len(w) <= 2:
			short := w
			pending = &short
		case index.IsStopWord(w):
		default:
			words = append(words, w)
		}
	}
	if pending != nil {
		if n := len(words); n > 0 {
			words[n-1] += *pending
		} else {
			words = append(words, *pending)
		}
	}
	return words
}
