package switcher

import (
	"regexp"
	"strings"
)

// Complexity scores a natural-language query from 0 to 100. The score is
// additive over independent signals, so extending a query never lowers
// it. Thresholds on this score pick the generation method.
func Complexity(query string) int {
	words := tokenize(query)
	score := 0

	// Length: every clause the user adds is something the generator has
	// to get right.
	if n := len(words) * 2; n > 20 {
		score += 20
	} else {
		score += n
	}

	score += countSignal(words, aggregationWords, 10, 20)
	score += countSignal(words, groupingWords, 8, 16)
	score += countSignal(words, connectorWords, 6, 18)
	score += countSignal(words, superlativeWords, 12, 12)
	score += countSignal(words, temporalWords, 8, 16)
	score += countSignal(words, subqueryWords, 14, 14)

	if score > 100 {
		score = 100
	}
	return score
}

func countSignal(words []string, signal map[string]bool, perHit, limit int) int {
	total := 0
	for _, word := range words {
		if signal[word] {
			total += perHit
		}
	}
	if total > limit {
		total = limit
	}
	return total
}

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

func tokenize(query string) []string {
	return tokenPattern.FindAllString(strings.ToLower(query), -1)
}

var (
	aggregationWords = map[string]bool{
		"count": true, "sum": true, "total": true, "average": true, "avg": true,
		"minimum": true, "maximum": true, "min": true, "max": true, "median": true,
	}
	groupingWords = map[string]bool{
		"per": true, "each": true, "grouped": true, "group": true, "breakdown": true, "by": true,
	}
	connectorWords = map[string]bool{
		"and": true, "or": true, "not": true, "except": true, "excluding": true, "without": true,
	}
	superlativeWords = map[string]bool{
		"top": true, "bottom": true, "most": true, "least": true, "highest": true,
		"lowest": true, "best": true, "worst": true, "largest": true, "smallest": true,
	}
	temporalWords = map[string]bool{
		"last": true, "previous": true, "past": true, "since": true, "before": true,
		"after": true, "between": true, "month": true, "week": true, "year": true,
		"quarter": true, "today": true, "yesterday": true, "trend": true,
	}
	subqueryWords = map[string]bool{
		"also": true, "never": true, "both": true, "ratio": true, "percentage": true,
		"compared": true, "versus": true, "correlation": true,
	}
)
