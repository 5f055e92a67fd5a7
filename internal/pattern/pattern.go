// ABOUTME: Compiles exact, wildcard and template patterns for handler routing.
// ABOUTME: Templates become anchored regular expressions with named groups.

package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPattern indicates a pattern that cannot be compiled.
var ErrInvalidPattern = errors.New("invalid pattern")

// Wildcard matches every frame name.
const Wildcard = "*"

// Type classifies a compiled pattern.
type Type int

const (
	TypeExact Type = iota
	TypeWildcard
	TypeTemplate
)

// Captures maps capture slot names to the substrings they matched.
type Captures map[string]string

// Pattern is a compiled subscription pattern. Safe for concurrent use.
type Pattern struct {
	raw    string
	typ    Type
	re     *regexp.Regexp
	fields []string
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compile parses a pattern string.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if raw == Wildcard {
		return &Pattern{raw: raw, typ: TypeWildcard}, nil
	}
	if !strings.ContainsAny(raw, "{}") {
		return &Pattern{raw: raw, typ: TypeExact}, nil
	}
	return compileTemplate(raw)
}

// MustCompile is like Compile but panics on error.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func compileTemplate(raw string) (*Pattern, error) {
	var (
		expr        strings.Builder
		fields      []string
		seen        = make(map[string]bool)
		rest        = raw
		lastCapture bool
	)
	expr.WriteString("^")
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		closeIdx := strings.IndexByte(rest, '}')
		if closeIdx >= 0 && (open < 0 || closeIdx < open) {
			return nil, fmt.Errorf("%w: unmatched '}' in %q", ErrInvalidPattern, raw)
		}
		if open < 0 {
			expr.WriteString(regexp.QuoteMeta(rest))
			break
		}
		if open > 0 {
			expr.WriteString(regexp.QuoteMeta(rest[:open]))
			lastCapture = false
		}
		rest = rest[open+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated '{' in %q", ErrInvalidPattern, raw)
		}
		name := rest[:end]
		if !fieldName.MatchString(name) {
			return nil, fmt.Errorf("%w: bad capture name %q in %q", ErrInvalidPattern, name, raw)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate capture %q in %q", ErrInvalidPattern, name, raw)
		}
		if lastCapture {
			return nil, fmt.Errorf("%w: adjacent captures in %q", ErrInvalidPattern, raw)
		}
		seen[name] = true
		fields = append(fields, name)
		expr.WriteString(`(?P<` + name + `>\S+)`)
		lastCapture = true
		rest = rest[end+1:]
	}
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return &Pattern{raw: raw, typ: TypeTemplate, re: re, fields: fields}, nil
}

// Match reports whether name matches, returning any captured fields.
func (p *Pattern) Match(name string) (Captures, bool) {
	switch p.typ {
	case TypeWildcard:
		return nil, true
	case TypeExact:
		return nil, name == p.raw
	}
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	captures := make(Captures, len(p.fields))
	for i, group := range p.re.SubexpNames() {
		if group != "" {
			captures[group] = m[i]
		}
	}
	return captures, true
}

// String returns the source pattern.
func (p *Pattern) String() string { return p.raw }

// Type returns the pattern classification.
func (p *Pattern) Type() Type { return p.typ }

// Fields returns the template capture names in order.
func (p *Pattern) Fields() []string {
	return append([]string(nil), p.fields...)
}
