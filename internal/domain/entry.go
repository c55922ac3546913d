package domain

import (
	"fmt"
	"sort"
	"strings"
)

// IndexEntry is the searchable projection of one chunk of a Document.
type IndexEntry struct {
	ID         string
	DocumentID string
	Title      string
	Path       string
	Chunk      string
	ChunkIndex int
	Vector     []float32
}

// EntryIDFor builds the id of the chunkIndex-th entry of a document.
func EntryIDFor(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_pages_%d", documentID, chunkIndex)
}

// Validate checks the fields every entry must carry.
func (e *IndexEntry) Validate() error {
	switch {
	case e.ID == "":
		return ErrMissingRequiredField.WithCause(errMissing("entry id"))
	case strings.TrimSpace(e.Chunk) == "":
		return ErrMissingRequiredField.WithCause(errMissing("chunk"))
	}
	return nil
}

// ScoredEntry pairs an index entry with its relevance score.
type ScoredEntry struct {
	Entry IndexEntry
	Score float64
}

// SearchRequest is a query against a search backend.
type SearchRequest struct {
	Index  string
	Text   string
	Vector []float32
	Top    int
}

// RetrievalResult is the ordered output of one retrieval. Entries are sorted
// by descending score; equal scores keep the order the backend returned them.
type RetrievalResult struct {
	Query       string
	SearchQuery string
	Entries     []ScoredEntry
	Degraded    bool
}

// Empty reports whether no entries were retrieved.
func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Entries) == 0
}

// References lists the distinct sources of the result in order.
func (r *RetrievalResult) References() []Reference {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool, len(r.Entries))
	refs := make([]Reference, 0, len(r.Entries))
	for _, se := range r.Entries {
		key := se.Entry.Title + "\x00" + se.Entry.Path
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, Reference{Title: se.Entry.Title, Path: se.Entry.Path})
	}
	return refs
}

// SortByScore orders entries by descending score, keeping the original order
// for ties.
func SortByScore(entries []ScoredEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
}

// Reference is a cited source of an answer.
type Reference struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}
