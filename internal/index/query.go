package index

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrQuerySyntax is returned for malformed query text.
var ErrQuerySyntax = errors.New("query syntax error")

// Query is a parsed boolean query: a disjunction of conjunctions of field
// clauses. AND binds tighter than OR.
type Query struct {
	groups [][]clause
	text   string
}

func (q *Query) String() string { return q.text }

type clause struct {
	field      string
	prohibited bool
	terms      []term
}

type term struct {
	tokens []string // analyzed
	boost  float64
	phrase bool
}

// specialChars must be escaped with a backslash in query text.
const specialChars = `\+-!():^[]"{}~*?|&/`

var keywords = []string{"AND", "OR", "NOT"}

// IsKeyword reports whether word collides with a query operator.
func IsKeyword(word string) bool {
	for _, k := range keywords {
		if strings.EqualFold(word, k) {
			return true
		}
	}
	return false
}

// Escape backslash-escapes every special character in word.
func Escape(word string) string {
	var sb strings.Builder
	for _, r := range word {
		if strings.ContainsRune(specialChars, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ParseQuery parses text of the form
//
//	product:(struts2^2 core) AND vendor:(apache "and")
//
// Each clause names a field followed by a single term or a parenthesized
// group of terms; terms may be quoted and may carry a ^boost. Clauses are
// joined by AND, OR (the default) or prefixed by NOT.
func ParseQuery(text string) (*Query, error) {
	p := &parser{src: text}
	q, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v in %q", ErrQuerySyntax, err, truncateForError(text))
	}
	q.text = text
	return q, nil
}

func truncateForError(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

type parser struct {
	src string
	pos int
}

func (p *parser) parse() (*Query, error) {
	q := &Query{}
	var group []clause
	expectClause := true
	prohibitNext := false
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		if word, ok := p.peekKeyword(); ok {
			switch word {
			case "AND":
				if expectClause {
					return nil, fmt.Errorf("unexpected AND at offset %d", p.pos)
				}
				expectClause = true
			case "OR":
				if expectClause {
					return nil, fmt.Errorf("unexpected OR at offset %d", p.pos)
				}
				q.groups = append(q.groups, group)
				group = nil
				expectClause = true
			case "NOT":
				prohibitNext = true
				expectClause = true
			}
			p.pos += len(word)
			continue
		}
		if !expectClause {
			// Implicit OR between adjacent clauses.
			q.groups = append(q.groups, group)
			group = nil
		}
		c, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		c.prohibited = prohibitNext
		prohibitNext = false
		group = append(group, c)
		expectClause = false
	}
	if expectClause {
		if len(q.groups) == 0 && len(group) == 0 {
			return nil, errors.New("empty query")
		}
		return nil, errors.New("dangling operator at end of query")
	}
	q.groups = append(q.groups, group)
	return q, nil
}

func (p *parser) parseClause() (clause, error) {
	start := p.pos
	for !p.eof() && isFieldChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start || p.eof() || p.src[p.pos] != ':' {
		return clause{}, fmt.Errorf("expected field name at offset %d", start)
	}
	c := clause{field: p.src[start:p.pos]}
	p.pos++ // ':'
	if !p.eof() && p.src[p.pos] == '(' {
		p.pos++
		for {
			p.skipSpace()
			if p.eof() {
				return clause{}, errors.New("missing closing parenthesis")
			}
			if p.src[p.pos] == ')' {
				p.pos++
				break
			}
			if _, ok := p.peekKeyword(); ok {
				return clause{}, fmt.Errorf("operator inside field group at offset %d", p.pos)
			}
			t, err := p.parseTerm()
			if err != nil {
				return clause{}, err
			}
			c.terms = append(c.terms, t)
		}
		if len(c.terms) == 0 {
			return clause{}, fmt.Errorf("empty group for field %q", c.field)
		}
		return c, nil
	}
	t, err := p.parseTerm()
	if err != nil {
		return clause{}, err
	}
	c.terms = []term{t}
	return c, nil
}

func (p *parser) parseTerm() (term, error) {
	t := term{boost: 1}
	var raw string
	if p.src[p.pos] == '"' {
		p.pos++
		var sb strings.Builder
		closed := false
		for !p.eof() {
			ch := p.src[p.pos]
			if ch == '\\' && p.pos+1 < len(p.src) {
				sb.WriteByte(p.src[p.pos+1])
				p.pos += 2
				continue
			}
			p.pos++
			if ch == '"' {
				closed = true
				break
			}
			sb.WriteByte(ch)
		}
		if !closed {
			return term{}, errors.New("unterminated quoted term")
		}
		raw = sb.String()
		t.phrase = true
	} else {
		var sb strings.Builder
		for !p.eof() {
			ch := p.src[p.pos]
			if ch == '\\' {
				if p.pos+1 >= len(p.src) {
					return term{}, errors.New("dangling escape character")
				}
				sb.WriteByte(p.src[p.pos+1])
				p.pos += 2
				continue
			}
			if ch == ' ' || ch == '\t' || ch == '\n' || ch == '^' || ch == ')' {
				break
			}
			if strings.IndexByte(`()"`, ch) >= 0 || ch == ':' {
				return term{}, fmt.Errorf("unescaped %q at offset %d", ch, p.pos)
			}
			sb.WriteByte(ch)
			p.pos++
		}
		raw = sb.String()
		if raw == "" {
			return term{}, fmt.Errorf("expected term at offset %d", p.pos)
		}
	}
	if !p.eof() && p.src[p.pos] == '^' {
		p.pos++
		start := p.pos
		for !p.eof() && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
			p.pos++
		}
		b, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil || b <= 0 {
			return term{}, fmt.Errorf("invalid boost at offset %d", start)
		}
		t.boost = b
	}
	t.tokens = Analyze(raw)
	return t, nil
}

func (p *parser) peekKeyword() (string, bool) {
	for _, k := range keywords {
		end := p.pos + len(k)
		if end > len(p.src) || p.src[p.pos:end] != k {
			continue
		}
		if end == len(p.src) || p.src[end] == ' ' || p.src[end] == '\t' || p.src[end] == '\n' {
			return k, true
		}
	}
	return "", false
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func isFieldChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
