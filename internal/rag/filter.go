package rag

import (
	"strings"
	"unicode/utf8"

	"document-qa/internal/models"
)

type FilterOptions struct {
	// matches whose trimmed text has at most this many characters are noise
	MinTextLength int
	// number of surviving matches used as context
	MaxContexts int
}

func DefaultFilterOptions() FilterOptions {
	return FilterOptions{MinTextLength: models.DefaultMinTextLength, MaxContexts: models.DefaultContextMatches}
}

// Retrieval is the outcome of filtering raw index matches
type Retrieval struct {
	Contexts  []string
	Survivors int
}

// FilterMatches drops near-empty matches and keeps the first MaxContexts
// survivors in the order the index returned them.
func FilterMatches(matches []models.Match, opts FilterOptions) Retrieval {
	out := Retrieval{Contexts: []string{}}
	for _, m := range matches {
		if utf8.RuneCountInString(strings.TrimSpace(m.Text)) <= opts.MinTextLength {
			continue
		}
		out.Survivors++
		if len(out.Contexts) < opts.MaxContexts {
			out.Contexts = append(out.Contexts, m.Text)
		}
	}
	return out
}

// ContextBlock joins the contexts with a blank line
func (r Retrieval) ContextBlock() string {
	return strings.Join(r.Contexts, models.ContextSeparator)
}
