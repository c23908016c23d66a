// Package vector defines the similarity-search store the warm learning tier
// and skill library run on, with Qdrant and in-memory backends. A Store is
// bound to a single collection.
package vector

import "context"

// Document is a stored point: an embedding plus an arbitrary payload.
type Document struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is a document with its similarity score.
type SearchResult struct {
	Document
	Score float32
}

// Filter constrains search and scroll to points whose payload fields equal
// the given values.
type Filter map[string]any

// Store is the vector search contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Upsert inserts or replaces documents.
	Upsert(ctx context.Context, docs ...Document) error

	// Search returns the closest documents to vector by cosine similarity,
	// best first, optionally constrained by filter.
	Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]SearchResult, error)

	// Get fetches a single document by id. Missing documents return
	// (nil, nil).
	Get(ctx context.Context, id string) (*Document, error)

	// Scroll pages through documents matching filter without a query
	// vector, up to limit.
	Scroll(ctx context.Context, filter Filter, limit int) ([]Document, error)

	// Delete removes documents by id. Missing ids are not an error.
	Delete(ctx context.Context, ids ...string) error

	Close() error
}
