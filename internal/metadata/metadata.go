// Package metadata derives structured metadata from a document's path and
// content: context label, title, heading keywords, and work-item identifiers.
package metadata

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// RootContext is the context label for files directly under the corpus root.
const RootContext = "root"

var (
	headingPattern  = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+?)\s*$`)
	keywordSplitter = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// Metadata is the extracted description of one document.
type Metadata struct {
	// Context is the nearest ancestor directory name, or RootContext.
	Context string

	// Title is the first top-level heading, falling back to the file
	// name without extension.
	Title string

	// Keywords are collected from all heading text plus the context
	// label, lowercased and de-duplicated. Order-insensitive; stored
	// sorted for determinism.
	Keywords []string

	// WorkItems are work-item style identifiers (e.g. PROJ-123) found
	// in directory names between the corpus root and the file.
	WorkItems []string
}

// ContextLabel returns the context label for a file: the name of its
// nearest ancestor directory inside root, or RootContext for files that
// sit directly under root.
//
// This is deliberately a pure function of (root, path); context is never
// threaded as mutable state through the walk.
func ContextLabel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return RootContext
	}
	dir := filepath.Dir(rel)
	if dir == "." || dir == string(filepath.Separator) {
		return RootContext
	}
	return filepath.Base(dir)
}

// Extractor extracts metadata from documents.
type Extractor struct {
	workItemPattern *regexp.Regexp
}

// NewExtractor creates an extractor. workItemPattern recognizes work-item
// style directory names; an empty pattern disables work-item extraction.
func NewExtractor(workItemPattern string) (*Extractor, error) {
	e := &Extractor{}
	if workItemPattern != "" {
		re, err := regexp.Compile(workItemPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid work item pattern %q: %w", workItemPattern, err)
		}
		e.workItemPattern = re
	}
	return e, nil
}

// Extract derives metadata for the file at path (under root) with the
// given text content.
//
// Missing headings are not an error: the title falls back to the file
// name and the keyword set may be empty aside from the context label.
func (e *Extractor) Extract(root, path string, text string) Metadata {
	md := Metadata{
		Context: ContextLabel(root, path),
	}

	headings := headingPattern.FindAllStringSubmatch(text, -1)

	for _, h := range headings {
		if md.Title == "" && len(h[1]) == 1 {
			md.Title = h[2]
		}
	}
	if md.Title == "" {
		base := filepath.Base(path)
		md.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	md.Keywords = collectKeywords(headings, md.Context)
	md.WorkItems = e.workItems(root, path)

	return md
}

// collectKeywords tokenizes all heading text plus the context label into
// a sorted, de-duplicated, lowercased keyword set.
func collectKeywords(headings [][]string, context string) []string {
	seen := make(map[string]bool)
	for _, h := range headings {
		for _, word := range keywordSplitter.Split(h[2], -1) {
			word = strings.ToLower(word)
			if len(word) >= 3 {
				seen[word] = true
			}
		}
	}
	if context != RootContext {
		seen[strings.ToLower(context)] = true
	}

	if len(seen) == 0 {
		return nil
	}
	keywords := make([]string, 0, len(seen))
	for w := range seen {
		keywords = append(keywords, w)
	}
	sort.Strings(keywords)
	return keywords
}

// workItems scans the directory components between root and path for
// names matching the work-item pattern. Matches propagate to every
// descendant file.
func (e *Extractor) workItems(root, path string) []string {
	if e.workItemPattern == nil {
		return nil
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return nil
	}

	var items []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		if e.workItemPattern.MatchString(part) && !seen[part] {
			seen[part] = true
			items = append(items, part)
		}
	}
	return items
}
