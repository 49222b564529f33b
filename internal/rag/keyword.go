package rag

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// KeywordStore is an in-memory retriever that scores documents by token
// overlap with the query. It is deterministic: equal scores fall back to
// insertion order.
type KeywordStore struct {
	mu   sync.RWMutex
	docs []Document
}

// NewKeywordStore creates an empty store.
func NewKeywordStore() *KeywordStore {
	return &KeywordStore{}
}

// Add appends documents to the corpus.
func (s *KeywordStore) Add(docs ...Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
}

// Len reports the corpus size.
func (s *KeywordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *KeywordStore) Retrieve(ctx context.Context, query string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	querySet := make(map[string]bool, len(terms))
	for _, t := range terms {
		querySet[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, doc := range s.docs {
		score := 0
		seen := map[string]bool{}
		for _, t := range tokenize(doc.Content) {
			if querySet[t] && !seen[t] {
				score++
				seen[t] = true
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]Document, len(hits))
	for i, h := range hits {
		out[i] = s.docs[h.idx]
	}
	return out, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
