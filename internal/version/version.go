// Package version parses version numbers out of free-text evidence and
// catalog records and compares them component by component.
package version

import (
	"regexp"
	"strings"
)

// None is the sentinel version meaning "no version known".
const None = "-"

var (
	// reVersion finds dotted version numbers such as 2.3.15 or 1.0-rc.
	reVersion = regexp.MustCompile(`(?i)\d+(\.\d+){1,6}([._-]?(snapshot|release|final|alpha|beta|rc$|[-_]?m\d+))?`)
	// reSingleVersion finds undotted versions such as 7 or 3b2.
	reSingleVersion = regexp.MustCompile(`\d+(\.?([_-](release|beta|alpha)|[a-zA-Z_-]{1,3}\d{0,8}))?`)
	// rePart splits a version string into its components.
	rePart = regexp.MustCompile(`(?i)(\d+[a-z]{1,3}$|[a-z]{1,3}[_-]?\d+|\d+|(rc|release|snapshot|beta|alpha)$)`)
	// reUpdate recognizes a fourth component that is really an update
	// qualifier (2.3.15.rc1, 1.0.0.v2, 4.1.2.2013...).
	reUpdate = regexp.MustCompile(`^(v|beta|alpha|u|rc|m|20\d\d)`)
	reVDigit = regexp.MustCompile(`^v\d`)
)

// Version is an ordered sequence of version components.
type Version struct {
	parts []string
}

// New splits text into components without first searching it for a
// version number. An unparseable non-empty text becomes a single component.
func New(text string) Version {
	if text == "" {
		return Version{}
	}
	parts := rePart.FindAllString(strings.ToLower(text), -1)
	if len(parts) == 0 {
		parts = []string{text}
	}
	return Version{parts: parts}
}

// FromParts builds a Version from already split components.
func FromParts(parts ...string) Version {
	return Version{parts: append([]string(nil), parts...)}
}

// Parse extracts the first thing that looks like a version number from
// text. It reports false when text contains no version.
func Parse(text string) (Version, bool) {
	return parse(text, true)
}

// ParseStrict is like Parse but also rejects text that contains more than
// one version-looking token.
func ParseStrict(text string) (Version, bool) {
	return parse(text, false)
}

func parse(text string, firstMatchOnly bool) (Version, bool) {
	if text == "" {
		return Version{}, false
	}
	if text == None {
		return Version{parts: []string{None}}, true
	}
	var v string
	if m := reVersion.FindAllString(text, 2); len(m) > 0 {
		if len(m) > 1 && !firstMatchOnly {
			return Version{}, false
		}
		v = m[0]
	} else {
		m := reSingleVersion.FindAllString(text, 2)
		if len(m) == 0 || len(m) > 1 {
			return Version{}, false
		}
		v = m[0]
	}
	if strings.HasSuffix(v, "-py2") && len(v) > 4 {
		v = v[:len(v)-4]
	}
	return New(v), true
}

// Parts returns a copy of the components.
func (v Version) Parts() []string {
	return append([]string(nil), v.parts...)
}

// Depth returns the number of components.
func (v Version) Depth() int {
	return len(v.parts)
}

// IsNone reports whether v is the "no version" sentinel.
func (v Version) IsNone() bool {
	return len(v.parts) == 1 && v.parts[0] == None
}

func (v Version) String() string {
	return strings.Join(v.parts, ".")
}

// Equal compares component by component. A one-component version never
// equals one with three or more; otherwise trailing zero components on the
// longer version are ignored (1.2 equals 1.2.0).
func (v Version) Equal(o Version) bool {
	minLen, maxLen := len(v.parts), len(o.parts)
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}
	if minLen == 0 {
		return maxLen == 0
	}
	if minLen == 1 && maxLen >= 3 {
		return false
	}
	for i := 0; i < minLen; i++ {
		if v.parts[i] != o.parts[i] {
			return false
		}
	}
	for _, rest := range [][]string{v.parts[minLen:], o.parts[minLen:]} {
		for _, p := range rest {
			if p != "0" {
				return false
			}
		}
	}
	return true
}

// MatchesAtLeastThreeLevels reports whether the first three components of
// v and o are equal and, past the third, every component of v sorts before
// the matching component of o. Versions whose depth differs by three or
// more never match.
func (v Version) MatchesAtLeastThreeLevels(o Version) bool {
	diff := len(v.parts) - len(o.parts)
	if diff >= 3 || diff <= -3 {
		return false
	}
	n := min(len(v.parts), len(o.parts))
	for i := 0; i < n; i++ {
		if i >= 3 {
			if strings.Compare(strings.ToLower(v.parts[i]), strings.ToLower(o.parts[i])) >= 0 {
				return false
			}
		} else if v.parts[i] != o.parts[i] {
			return false
		}
	}
	return true
}

// SplitUpdate applies the update-qualifier rule. When the catalog's deepest
// version has three components and v has a fourth component that looks
// like an update qualifier, the base version and the qualifier are returned
// separately; a leading "v" before a digit is dropped from the qualifier.
// Otherwise the whole version is returned with an empty update.
func (v Version) SplitUpdate(maxDepth int) (base, update string) {
	if base, update, ok := v.splitUpdate(maxDepth); ok {
		return base.String(), update
	}
	return v.String(), ""
}

// BaseVersion returns v without its update qualifier, if the
// update-qualifier rule applies.
func (v Version) BaseVersion(maxDepth int) (Version, bool) {
	base, _, ok := v.splitUpdate(maxDepth)
	return base, ok
}

func (v Version) splitUpdate(maxDepth int) (Version, string, bool) {
	if maxDepth != 3 || len(v.parts) != 4 || !reUpdate.MatchString(v.parts[3]) {
		return Version{}, "", false
	}
	update := v.parts[3]
	if reVDigit.MatchString(update) {
		update = update[1:]
	}
	return Version{parts: v.parts[:3]}, update, true
}
