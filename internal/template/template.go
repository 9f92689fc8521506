// Package template implements pattern-matched SQL generation: a library of
// regex patterns with parameterized SQL bodies, matched against incoming
// natural-language queries.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamDate   ParamType = "date"
	ParamEnum   ParamType = "enum"
)

type Parameter struct {
	Name string
	Type ParamType
	// Enum lists the allowed values when Type is ParamEnum.
	Enum []string
}

type Example struct {
	Query string
	SQL   string
}

// Template pairs a match pattern with a SQL body containing {name}
// placeholders. Dialect "" means dialect-agnostic.
type Template struct {
	ID         string
	Pattern    string
	SQL        string
	Parameters []Parameter
	Dialect    string
	Priority   int
	Examples   []Example

	// AddedSeq is assigned by the store; larger means added later. It is
	// the final tie-break so repeated matching stays deterministic.
	AddedSeq int64

	compiled *regexp.Regexp
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// compile validates the template and prepares its pattern. Every
// placeholder in the SQL body must have a declared parameter, and every
// declared parameter must appear as a capture group in the pattern.
func (t *Template) compile() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template id is required")
	}
	if strings.TrimSpace(t.Pattern) == "" {
		return fmt.Errorf("template %s: pattern is required", t.ID)
	}
	if strings.TrimSpace(t.SQL) == "" {
		return fmt.Errorf("template %s: sql body is required", t.ID)
	}

	compiled, err := regexp.Compile("(?i)" + t.Pattern)
	if err != nil {
		return fmt.Errorf("template %s: invalid pattern: %w", t.ID, err)
	}

	declared := map[string]Parameter{}
	for _, param := range t.Parameters {
		if param.Name == "" {
			return fmt.Errorf("template %s: parameter name is required", t.ID)
		}
		if _, dup := declared[param.Name]; dup {
			return fmt.Errorf("template %s: duplicate parameter %q", t.ID, param.Name)
		}
		switch param.Type {
		case ParamString, ParamNumber, ParamDate:
		case ParamEnum:
			if len(param.Enum) == 0 {
				return fmt.Errorf("template %s: enum parameter %q has no values", t.ID, param.Name)
			}
		default:
			return fmt.Errorf("template %s: unknown parameter type %q", t.ID, param.Type)
		}
		declared[param.Name] = param
	}

	for _, placeholder := range placeholderPattern.FindAllStringSubmatch(t.SQL, -1) {
		if _, ok := declared[placeholder[1]]; !ok {
			return fmt.Errorf("template %s: placeholder {%s} has no declared parameter", t.ID, placeholder[1])
		}
	}

	groups := map[string]bool{}
	for _, name := range compiled.SubexpNames() {
		if name != "" {
			groups[name] = true
		}
	}
	for name := range declared {
		if !groups[name] {
			return fmt.Errorf("template %s: parameter %q has no capture group in pattern", t.ID, name)
		}
	}

	t.compiled = compiled
	return nil
}

func (t *Template) parameter(name string) (Parameter, bool) {
	for _, param := range t.Parameters {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

// specificity ranks templates that match the same query: more captured
// parameters and a longer literal pattern both make a template more
// specific.
func (t *Template) specificity() int {
	return len(t.Parameters)*10 + literalLength(t.Pattern)
}

// literalLength approximates pattern complexity by counting characters
// outside regex metasyntax and capture groups.
func literalLength(pattern string) int {
	stripped := placeholderGroupPattern.ReplaceAllString(pattern, "")
	length := 0
	for _, r := range stripped {
		switch r {
		case '(', ')', '[', ']', '{', '}', '?', '*', '+', '.', '|', '\\', '^', '$':
			continue
		default:
			length++
		}
	}
	return length
}

var placeholderGroupPattern = regexp.MustCompile(`\(\?P<[a-zA-Z_][a-zA-Z0-9_]*>[^)]*\)`)

func (t *Template) matchesDialect(dialect string) bool {
	return t.Dialect == "" || strings.EqualFold(t.Dialect, dialect)
}
