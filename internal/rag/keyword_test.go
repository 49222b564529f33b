package rag

import (
	"context"
	"testing"
)

func TestKeywordStoreRanksByOverlap(t *testing.T) {
	store := NewKeywordStore()
	store.Add(
		Document{ID: "a", Content: "Tour guide for the Eiffel Tower in Paris"},
		Document{ID: "b", Content: "Weather conditions in Recife today"},
		Document{ID: "c", Content: "Paris travel tips: metro, museums, food"},
	)

	docs, err := store.Retrieve(context.Background(), "what should I visit in Paris", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	for _, doc := range docs {
		if doc.ID == "b" {
			t.Fatalf("unrelated document retrieved: %+v", doc)
		}
	}
}

func TestKeywordStoreDeterministicTieBreak(t *testing.T) {
	store := NewKeywordStore()
	store.Add(
		Document{ID: "first", Content: "apple pie"},
		Document{ID: "second", Content: "apple tart"},
	)

	for i := 0; i < 5; i++ {
		docs, err := store.Retrieve(context.Background(), "apple", 0)
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(docs) != 2 || docs[0].ID != "first" || docs[1].ID != "second" {
			t.Fatalf("tie-break not stable on run %d: %+v", i, docs)
		}
	}
}

func TestKeywordStoreNoMatches(t *testing.T) {
	store := NewKeywordStore()
	store.Add(Document{ID: "a", Content: "apple pie"})

	docs, err := store.Retrieve(context.Background(), "quantum chromodynamics", 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents, got %+v", docs)
	}
}
