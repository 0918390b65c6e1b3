package knowledge

import (
	"sort"
	"strings"
)

type SearchRequest struct {
	Query      string
	MaxResults int
	// Category narrows module matches ("sales", "operations", ...).
	Category string
}

type SearchMatch struct {
	Kind  string `json:"kind"` // "module", "term" or "blueprint"
	ID    string `json:"id"`
	Title string `json:"title"`
	Score int    `json:"score"`
}

type SearchResult struct {
	Query   string        `json:"query"`
	Matches []SearchMatch `json:"matches"`
}

// Search ranks catalog entries against a free-text business query.
func (c *Catalog) Search(req SearchRequest) SearchResult {
	query := strings.TrimSpace(req.Query)
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxResults > 20 {
		maxResults = 20
	}
	terms := tokenize(query)

	var matches []SearchMatch
	for name, m := range c.modules {
		if req.Category != "" && m.Category != req.Category {
			continue
		}
		score := scoreFields(terms,
			weighted{m.Name, 4}, weighted{name, 4},
			weighted{strings.Join(m.Needs, " "), 3},
			weighted{m.Description, 1})
		if score > 0 {
			matches = append(matches, SearchMatch{Kind: "module", ID: name, Title: m.Name, Score: score})
		}
	}
	if req.Category == "" {
		for word, t := range c.dictionary {
			score := scoreFields(terms, weighted{word, 5}, weighted{t.Description, 1})
			if score > 0 {
				matches = append(matches, SearchMatch{Kind: "term", ID: word, Title: t.Model, Score: score})
			}
		}
		for id, b := range c.blueprints {
			score := scoreFields(terms, weighted{b.Title, 4}, weighted{id, 4}, weighted{b.Notes, 1})
			if score > 0 {
				matches = append(matches, SearchMatch{Kind: "blueprint", ID: id, Title: b.Title, Score: score})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return SearchResult{Query: query, Matches: matches}
}

type weighted struct {
	text   string
	weight int
}

func scoreFields(terms []string, fields ...weighted) int {
	score := 0
	for _, f := range fields {
		text := strings.ToLower(f.text)
		for _, term := range terms {
			if strings.Contains(text, term) {
				score += f.weight
			}
		}
	}
	return score
}

func tokenize(input string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(input)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) >= 3 {
			out = append(out, w)
		}
	}
	return out
}

func normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
