// Package validate screens generated SQL before it reaches a caller. The
// checks run in a fixed order and collect every violation, so the same
// query always produces the same report.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/querymesh/querymesh/internal/auth"
	"github.com/querymesh/querymesh/internal/observability"
	"github.com/querymesh/querymesh/internal/schema"
)

type Category string

const (
	CategorySecurity   Category = "security"
	CategoryDangerous  Category = "dangerous_operation"
	CategoryPermission Category = "permission"
	CategorySyntax     Category = "syntax"
)

type Violation struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	// Position is the byte offset into the query where the problem was
	// found, or -1 when it applies to the whole statement.
	Position int `json:"position"`
}

type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

func (r Result) Error() error {
	if r.Valid {
		return nil
	}
	messages := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		messages = append(messages, fmt.Sprintf("%s: %s", v.Category, v.Message))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// SyntaxProber checks a statement against a real SQL engine primed with
// the schema snapshot. Optional; nil skips the probe.
type SyntaxProber interface {
	Probe(ctx context.Context, sqlText string, s *schema.Schema) error
}

type Config struct {
	// AllowedOperations lists the statement kinds that may pass, by
	// leading keyword. Empty means read-only: SELECT and WITH.
	AllowedOperations []string
}

type Validator struct {
	allowed map[string]bool
	prober  SyntaxProber
	logger  *slog.Logger
}

func New(cfg Config, prober SyntaxProber, logger *slog.Logger) *Validator {
	allowed := map[string]bool{}
	ops := cfg.AllowedOperations
	if len(ops) == 0 {
		ops = []string{"SELECT", "WITH"}
	}
	for _, op := range ops {
		allowed[strings.ToUpper(strings.TrimSpace(op))] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{allowed: allowed, prober: prober, logger: logger}
}

// Validate runs every check and reports all violations. Identity nil
// skips the permission check; schema nil skips table resolution.
func (v *Validator) Validate(ctx context.Context, sqlText string, s *schema.Schema, identity *auth.Identity) Result {
	var violations []Violation

	violations = append(violations, checkSecurity(sqlText)...)
	violations = append(violations, v.checkOperations(sqlText)...)
	if identity != nil {
		violations = append(violations, checkPermissions(sqlText, identity)...)
	}
	violations = append(violations, v.checkSyntax(ctx, sqlText, s)...)

	for _, violation := range violations {
		observability.ObserveValidationFailure(string(violation.Category))
	}
	return Result{Valid: len(violations) == 0, Violations: violations}
}

var (
	commentPattern   = regexp.MustCompile(`--|/\*|\*/`)
	tautologyPattern = regexp.MustCompile(`(?i)\b(?:where|or|and)\s+('[^']*'|\d+)\s*=\s*('[^']*'|\d+)`)
	stackedPattern   = regexp.MustCompile(`;\s*\S`)
	keywordPattern   = regexp.MustCompile(`(?i)^\s*([a-z]+)`)
	tablePattern     = regexp.MustCompile(`(?i)\b(?:from|join|into|update|table)\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`)
)

func checkSecurity(sqlText string) []Violation {
	var violations []Violation
	stripped := stripStringLiterals(sqlText)

	if loc := stackedPattern.FindStringIndex(stripped); loc != nil {
		violations = append(violations, Violation{
			Category: CategorySecurity,
			Message:  "multiple statements are not allowed",
			Position: loc[0],
		})
	}
	if loc := commentPattern.FindStringIndex(stripped); loc != nil {
		violations = append(violations, Violation{
			Category: CategorySecurity,
			Message:  "comment sequences are not allowed",
			Position: loc[0],
		})
	}
	if loc := tautologyPattern.FindStringIndex(stripped); loc != nil {
		match := tautologyPattern.FindStringSubmatch(stripped)
		if len(match) == 3 && match[1] == match[2] {
			violations = append(violations, Violation{
				Category: CategorySecurity,
				Message:  "always-true predicate looks like an injection probe",
				Position: loc[0],
			})
		}
	}
	return violations
}

func (v *Validator) checkOperations(sqlText string) []Violation {
	match := keywordPattern.FindStringSubmatch(sqlText)
	if match == nil {
		return []Violation{{Category: CategorySyntax, Message: "statement has no leading keyword", Position: 0}}
	}
	leading := strings.ToUpper(match[1])
	if !v.allowed[leading] {
		return []Violation{{
			Category: CategoryDangerous,
			Message:  fmt.Sprintf("operation %s is not allowed", leading),
			Position: strings.Index(sqlText, match[1]),
		}}
	}

	// A permitted leading keyword can still smuggle a mutation deeper in
	// the statement.
	var violations []Violation
	stripped := strings.ToUpper(stripStringLiterals(sqlText))
	for _, forbidden := range []string{"DROP", "TRUNCATE", "ALTER", "GRANT", "REVOKE", "DELETE", "INSERT", "UPDATE", "CREATE", "EXEC", "EXECUTE"} {
		if v.allowed[forbidden] {
			continue
		}
		pattern := regexp.MustCompile(`\b` + forbidden + `\b`)
		if loc := pattern.FindStringIndex(stripped); loc != nil {
			violations = append(violations, Violation{
				Category: CategoryDangerous,
				Message:  fmt.Sprintf("operation %s is not allowed", forbidden),
				Position: loc[0],
			})
		}
	}
	return violations
}

func checkPermissions(sqlText string, identity *auth.Identity) []Violation {
	if identity.AllTables {
		return nil
	}
	var violations []Violation
	for _, table := range ReferencedTables(sqlText) {
		if !identity.CanAccessTable(table) {
			violations = append(violations, Violation{
				Category: CategoryPermission,
				Message:  fmt.Sprintf("access to table %s is not granted", table),
				Position: -1,
			})
		}
	}
	return violations
}

func (v *Validator) checkSyntax(ctx context.Context, sqlText string, s *schema.Schema) []Violation {
	var violations []Violation

	if count := strings.Count(stripStringLiterals(sqlText), "("); count != strings.Count(stripStringLiterals(sqlText), ")") {
		violations = append(violations, Violation{
			Category: CategorySyntax, Message: "unbalanced parentheses", Position: -1,
		})
	}
	if strings.Count(sqlText, "'")%2 != 0 {
		violations = append(violations, Violation{
			Category: CategorySyntax, Message: "unbalanced string literal", Position: -1,
		})
	}

	if s != nil {
		known := map[string]bool{}
		for _, table := range s.Tables {
			known[strings.ToLower(table.Name)] = true
		}
		for _, table := range ReferencedTables(sqlText) {
			base := table
			if dot := strings.LastIndex(base, "."); dot >= 0 {
				base = base[dot+1:]
			}
			if !known[strings.ToLower(base)] {
				violations = append(violations, Violation{
					Category: CategorySyntax,
					Message:  fmt.Sprintf("unknown table %s", table),
					Position: -1,
				})
			}
		}
	}

	// The probe only adds signal for statements that passed everything
	// above; feeding it known-bad SQL just duplicates violations.
	if v.prober != nil && len(violations) == 0 {
		if err := v.prober.Probe(ctx, sqlText, s); err != nil {
			violations = append(violations, Violation{
				Category: CategorySyntax,
				Message:  fmt.Sprintf("engine rejected statement: %v", err),
				Position: -1,
			})
		}
	}
	return violations
}

// ReferencedTables extracts the table names a statement touches,
// deduplicated and sorted. CTE names introduced by WITH are excluded.
func ReferencedTables(sqlText string) []string {
	stripped := stripStringLiterals(sqlText)

	cteNames := map[string]bool{}
	for _, match := range ctePattern.FindAllStringSubmatch(stripped, -1) {
		cteNames[strings.ToLower(match[1])] = true
	}

	seen := map[string]bool{}
	var tables []string
	for _, match := range tablePattern.FindAllStringSubmatch(stripped, -1) {
		name := match[1]
		lower := strings.ToLower(name)
		if seen[lower] || cteNames[lower] {
			continue
		}
		seen[lower] = true
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

var ctePattern = regexp.MustCompile(`(?i)(?:\bwith\s+|,\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s+as\s*\(`)

// stripStringLiterals blanks quoted strings so literal content never
// triggers a structural check.
func stripStringLiterals(sqlText string) string {
	var b strings.Builder
	b.Grow(len(sqlText))
	inString := false
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		if c == '\'' {
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if inString {
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
