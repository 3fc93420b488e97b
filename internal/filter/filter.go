// Package filter parses the search filter subset understood by the built-in
// registry stores: conjunctions of equality and LIKE comparisons on the
// model name and on tag values.
//
//	name = 'greeting'
//	name LIKE 'team-%'
//	tags.env = 'prod'
//	tags.`shirushi.prompt.is_prompt` = 'true' AND name ILIKE '%summar%'
//
// Tag keys containing dots must be backtick-quoted. Values are always
// single-quoted. This is deliberately not a general query language — richer
// backends evaluate filters on their own terms and receive the raw string.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEqual    Op = "="
	OpNotEqual Op = "!="
	OpLike     Op = "LIKE"
	OpILike    Op = "ILIKE"
)

// Condition is one clause of a conjunctive filter.
type Condition struct {
	// Field is "name" for the entity name, or "tag" with Key set.
	Field string
	Key   string
	Op    Op
	Value string
}

// splitAnd splits on the AND keyword outside quoted regions.
func splitAnd(s string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '`':
			quote = c
		case (c == 'A' || c == 'a') && i+3 <= len(s) && strings.EqualFold(s[i:i+3], "AND"):
			// Keyword boundaries: preceded and followed by whitespace.
			if i > 0 && isSpace(s[i-1]) && (i+3 == len(s) || isSpace(s[i+3])) {
				parts = append(parts, s[start:i])
				start = i + 3
				i += 2
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

var clauseRe = regexp.MustCompile(`(?i)^\s*(name|tags\.(?:\x60[^\x60]+\x60|[A-Za-z0-9_.\-]+))\s*(=|!=|LIKE|ILIKE)\s*'((?:[^']|'')*)'\s*$`)

// Parse parses a conjunctive filter string. The empty string parses to no
// conditions (match everything).
func Parse(s string) ([]Condition, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var conds []Condition
	for _, clause := range splitAnd(s) {
		m := clauseRe.FindStringSubmatch(clause)
		if m == nil {
			return nil, fmt.Errorf("filter: unsupported clause %q", strings.TrimSpace(clause))
		}
		field := m[1]
		cond := Condition{
			Op:    Op(strings.ToUpper(m[2])),
			Value: strings.ReplaceAll(m[3], "''", "'"),
		}
		if strings.EqualFold(field, "name") {
			cond.Field = "name"
		} else {
			cond.Field = "tag"
			key := field[len("tags."):]
			key = strings.TrimPrefix(key, "`")
			key = strings.TrimSuffix(key, "`")
			cond.Key = key
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// Match evaluates the condition against an entity's name and tag map.
func (c Condition) Match(name string, tags map[string]string) bool {
	var actual string
	var present bool
	switch c.Field {
	case "name":
		actual, present = name, true
	case "tag":
		actual, present = tags[c.Key]
	}
	switch c.Op {
	case OpEqual:
		return present && actual == c.Value
	case OpNotEqual:
		return present && actual != c.Value
	case OpLike:
		return present && likeMatch(actual, c.Value, false)
	case OpILike:
		return present && likeMatch(actual, c.Value, true)
	}
	return false
}

// likeMatch implements SQL LIKE semantics: % matches any run, _ matches one
// character.
func likeMatch(s, pattern string, foldCase bool) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	expr := b.String()
	if foldCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// QuoteTagKey renders a tag key for embedding in a filter string,
// backtick-quoting it (reserved keys contain dots).
func QuoteTagKey(key string) string {
	return "`" + key + "`"
}
