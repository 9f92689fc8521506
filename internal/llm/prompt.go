package llm

import (
	"fmt"
	"strings"

	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/schema"
)

// attempt records one failed round of the refinement loop so the next
// prompt can tell the model what was wrong with its previous answer.
type attempt struct {
	SQL    string
	Reason string
}

func systemPrompt(dialect string) string {
	notes := dialectNotes(dialect)
	prompt := fmt.Sprintf("You convert natural language questions into a single %s SQL query. ", dialectName(dialect))
	if notes != "" {
		prompt += notes + " "
	}
	prompt += "Return ONLY SQL. No markdown, no explanation."
	return prompt
}

func userPrompt(req generate.Request, maxTables int, previous []attempt) string {
	var b strings.Builder
	b.WriteString(schema.DescribeForPrompt(req.Schema, maxTables, req.Query))
	b.WriteString("\nQuestion:\n")
	b.WriteString(strings.TrimSpace(req.Query))
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Use only the tables and columns listed above.\n")
	b.WriteString("- Prefer explicit column lists over SELECT *.\n")
	b.WriteString("- Generate a read-only query. Never modify data.\n")
	b.WriteString("- Output a single SQL query only.\n")

	for _, prior := range previous {
		fmt.Fprintf(&b, "\nYour previous attempt was rejected.\nAttempt:\n%s\nProblem: %s\nProduce a corrected query.\n", prior.SQL, prior.Reason)
	}
	return b.String()
}

func dialectName(dialect string) string {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return "PostgreSQL"
	case "mysql":
		return "MySQL"
	case "sqlite":
		return "SQLite"
	case "duckdb":
		return "DuckDB"
	default:
		return "ANSI"
	}
}

func dialectNotes(dialect string) string {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return "Use double quotes for identifiers and ILIKE for case-insensitive matching."
	case "mysql":
		return "Use backticks for identifiers and LIMIT for row caps."
	case "sqlite":
		return "Avoid features SQLite lacks, such as RIGHT JOIN and FULL OUTER JOIN."
	case "duckdb":
		return "DuckDB uses PostgreSQL-like SQL syntax."
	default:
		return ""
	}
}
