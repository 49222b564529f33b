// Package rag provides document retrieval for context-augmented
// assistants.
package rag

import "context"

// Document is one retrievable unit of context.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever returns the documents most relevant to a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Document, error)
}
