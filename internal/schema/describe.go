package schema

import (
	"fmt"
	"sort"
	"strings"
)

// DescribeForPrompt renders a bounded natural-language description of the
// schema for inclusion in a generation prompt. When the table count exceeds
// maxTables, tables are ranked by keyword overlap with the query plus
// relationship proximity, and anything a selected table references through a
// foreign key is pulled in as well.
func DescribeForPrompt(s *Schema, maxTables int, query string) string {
	if s == nil || len(s.Tables) == 0 {
		return "The database has no tables."
	}
	if maxTables <= 0 {
		maxTables = 50
	}

	selected := s.Tables
	if len(s.Tables) > maxTables {
		selected = rankTables(s, maxTables, query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Database schema (version %s), %d of %d tables:\n", s.Version, len(selected), len(s.Tables))
	for _, table := range selected {
		b.WriteString(describeTable(table))
	}

	if rels := relevantRelationships(s, selected); len(rels) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range rels {
			label := rel.Cardinality
			if label == "" {
				label = "many-to-one"
			}
			fmt.Fprintf(&b, "- %s.%s references %s.%s (%s)\n", rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, label)
		}
	}
	return b.String()
}

func describeTable(table Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s", table.Name)
	if table.RowEstimate > 0 {
		fmt.Fprintf(&b, " (~%d rows)", table.RowEstimate)
	}
	b.WriteString(":\n")
	for _, column := range table.Columns {
		fmt.Fprintf(&b, "  - %s %s", column.Name, column.DataType)
		attrs := make([]string, 0, 3)
		if isPrimaryKey(table, column.Name) {
			attrs = append(attrs, "primary key")
		}
		if !column.Nullable {
			attrs = append(attrs, "not null")
		}
		if column.References != nil {
			attrs = append(attrs, fmt.Sprintf("references %s.%s", column.References.Table, column.References.Column))
		}
		if len(attrs) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(attrs, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func isPrimaryKey(table Table, column string) bool {
	for _, pk := range table.PrimaryKey {
		if strings.EqualFold(pk, column) {
			return true
		}
	}
	return false
}

func relevantRelationships(s *Schema, selected []Table) []Relationship {
	names := map[string]bool{}
	for _, table := range selected {
		names[strings.ToLower(table.Name)] = true
	}
	rels := make([]Relationship, 0, len(s.Relationships))
	for _, rel := range s.Relationships {
		if names[strings.ToLower(rel.FromTable)] && names[strings.ToLower(rel.ToTable)] {
			rels = append(rels, rel)
		}
	}
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].FromTable+rels[i].FromColumn < rels[j].FromTable+rels[j].FromColumn
	})
	return rels
}

type rankedTable struct {
	table Table
	score int
	index int
}

func rankTables(s *Schema, maxTables int, query string) []Table {
	keywords := queryKeywords(query)

	ranked := make([]rankedTable, 0, len(s.Tables))
	for i, table := range s.Tables {
		ranked = append(ranked, rankedTable{table: table, score: lexicalScore(table, keywords), index: i})
	}
	// Relationship proximity: a table related to a keyword-matched table
	// scores half the neighbor bonus.
	matched := map[string]bool{}
	for _, entry := range ranked {
		if entry.score > 0 {
			matched[strings.ToLower(entry.table.Name)] = true
		}
	}
	for i := range ranked {
		name := strings.ToLower(ranked[i].table.Name)
		for _, rel := range s.Relationships {
			from := strings.ToLower(rel.FromTable)
			to := strings.ToLower(rel.ToTable)
			if (from == name && matched[to]) || (to == name && matched[from]) {
				ranked[i].score += 2
			}
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})

	picked := make([]Table, 0, maxTables)
	pickedNames := map[string]bool{}
	for _, entry := range ranked {
		if len(picked) >= maxTables {
			break
		}
		picked = append(picked, entry.table)
		pickedNames[strings.ToLower(entry.table.Name)] = true
	}

	// Pull in foreign-key targets of selected tables so generated joins
	// have both sides described.
	for _, table := range picked {
		for _, column := range table.Columns {
			if column.References == nil {
				continue
			}
			refName := strings.ToLower(column.References.Table)
			if pickedNames[refName] {
				continue
			}
			if referenced, ok := s.Table(refName); ok {
				picked = append(picked, referenced)
				pickedNames[refName] = true
			}
		}
	}
	return picked
}

func lexicalScore(table Table, keywords []string) int {
	score := 0
	name := strings.ToLower(table.Name)
	for _, keyword := range keywords {
		if name == keyword || name == keyword+"s" || name+"s" == keyword {
			score += 10
			continue
		}
		if strings.Contains(name, keyword) {
			score += 5
		}
		for _, column := range table.Columns {
			if strings.Contains(strings.ToLower(column.Name), keyword) {
				score += 1
			}
		}
	}
	return score
}

func queryKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	keywords := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < 3 || stopwords[field] {
			continue
		}
		keywords = append(keywords, field)
	}
	return keywords
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "show": true, "list": true, "all": true,
	"get": true, "find": true, "where": true, "which": true, "who": true,
	"what": true, "how": true, "many": true, "much": true, "are": true,
	"was": true, "were": true, "have": true, "has": true, "per": true,
}
