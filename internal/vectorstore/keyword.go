package vectorstore

import (
	"regexp"
	"sort"
	"strings"
)

var termSplitter = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Tokenize splits text into lowercased terms of at least two characters.
func Tokenize(text string) []string {
	var terms []string
	for _, t := range termSplitter.Split(strings.ToLower(text), -1) {
		if len(t) >= 2 {
			terms = append(terms, t)
		}
	}
	return terms
}

// scoreKeywords computes a lexical relevance score for one entry.
//
// Each query term contributes a capped term frequency from the chunk
// text, with extra weight when it appears in the title or the curated
// keyword list. Zero means no term matched at all.
func scoreKeywords(queryTerms []string, text, title string, keywords []string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}

	textFreq := make(map[string]int)
	for _, t := range Tokenize(text) {
		textFreq[t]++
	}
	titleTerms := make(map[string]bool)
	for _, t := range Tokenize(title) {
		titleTerms[t] = true
	}
	keywordTerms := make(map[string]bool)
	for _, k := range keywords {
		keywordTerms[strings.ToLower(k)] = true
	}

	var score float32
	for _, term := range queryTerms {
		if tf := textFreq[term]; tf > 0 {
			if tf > 5 {
				tf = 5
			}
			score += float32(tf) / 5
		}
		if titleTerms[term] {
			score += 2
		}
		if keywordTerms[term] {
			score += 1.5
		}
	}
	return score / float32(len(queryTerms))
}

// rankByKeywords scores candidates against the query and returns the top
// limit results with a positive score, highest first. Ties keep the
// candidate order stable.
func rankByKeywords(query string, candidates []Result, limit int) []Result {
	queryTerms := Tokenize(query)

	var ranked []Result
	for _, c := range candidates {
		c.Score = scoreKeywords(queryTerms, c.Text, c.Title, c.Keywords)
		if c.Score > 0 {
			ranked = append(ranked, c)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// matchesListFilters applies the WorkItem and Keyword filter fields,
// which the backends cannot express natively over list payloads.
func matchesListFilters(f Filter, r Result) bool {
	if f.WorkItem != "" && !containsFold(r.WorkItems, f.WorkItem) {
		return false
	}
	if f.Keyword != "" && !containsFold(r.Keywords, f.Keyword) {
		return false
	}
	return true
}

func containsFold(items []string, want string) bool {
	for _, it := range items {
		if strings.EqualFold(it, want) {
			return true
		}
	}
	return false
}
