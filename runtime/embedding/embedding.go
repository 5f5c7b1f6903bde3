// Package embedding re-exports the EmbeddingClient contract storage search
// depends on (spec §1 treats the embedding/similarity back-end as an
// external collaborator) and provides the concrete adapters under inmem and
// pgvector. The interface itself lives in runtime/schema to avoid an import
// cycle between schema registration and these adapters; this package is
// just where embedders look for it and for the adapter constructors.
package embedding

import "goa.design/agentswarm/runtime/schema"

// Client computes vector embeddings and similarity scores for storage
// search (spec §6, "Vector storage... configured through the core but
// their algorithms are not specified here").
type Client = schema.EmbeddingClient
