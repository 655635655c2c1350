// Package index stores chunk vectors and text in PostgreSQL and serves the
// two retrieval legs: semantic search over pgvector embeddings and lexical
// full-text search over tsvector. Collections are replaced atomically by
// staging a new generation of rows and flipping the active-generation
// pointer in one transaction, so readers never observe a partial index.
package index
