package retriever

import (
	"regexp"
	"strings"
)

// categoryKeywords maps a search category to the keywords that identify it,
// checked in declaration order so an academic query with a government
// keyword still classifies as academic (more specific first).
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"academic", []string{"doi:", "arxiv", "pubmed", "meta-analysis", "systematic review", "peer-reviewed", "journal of", "et al"}},
	{"government", []string{"site:gov", ".gov", "regulation", "statute", "federal register", "legislation"}},
	{"news", []string{"breaking", "reuters", "associated press", "according to reports", "site:news"}},
	{"technical", []string{"api", "sdk", "documentation", "changelog", "stack trace", "rfc "}},
}

// classifyQuery computes the search category a query belongs to from a
// small keyword map, defaulting to "general" per spec.md §4.4 step 1.
func classifyQuery(query string) string {
	lower := strings.ToLower(query)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(lower, kw) {
				return ck.category
			}
		}
	}
	return "general"
}

// operatorPattern matches the query operators the Retriever normalizes:
// site:, filetype:, intitle:, "exact phrase", and -exclude.
var operatorPattern = regexp.MustCompile(`(?:site|filetype|intitle|after):\S+|"[^"]*"|-\S+`)

// normalizeOperators rewrites query for one engine's operator support,
// transforming or dropping operators per mapping (keyed by operator
// prefix, e.g. "site:" -> "domain:", or "" to drop the operator's value
// entirely and keep only the query's free text).
func normalizeOperators(query string, mapping map[string]string) string {
	if len(mapping) == 0 {
		return query
	}

	return operatorPattern.ReplaceAllStringFunc(query, func(op string) string {
		prefix, ok := operatorPrefix(op)
		if !ok {
			// quoted phrase or -exclude: pass through unless explicitly
			// mapped by its own literal form.
			if repl, ok := mapping[op]; ok {
				return repl
			}
			return op
		}

		repl, ok := mapping[prefix]
		if !ok {
			// No mapping entry: engine doesn't understand this operator,
			// so the operator is dropped and only its value kept.
			return strings.TrimPrefix(op, prefix)
		}
		if repl == "" {
			return ""
		}
		return repl + strings.TrimPrefix(op, prefix)
	})
}

func operatorPrefix(op string) (string, bool) {
	for _, p := range []string{"site:", "filetype:", "intitle:", "after:"} {
		if strings.HasPrefix(op, p) {
			return p, true
		}
	}
	return "", false
}
