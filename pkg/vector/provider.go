// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vector abstracts similarity search over a pluggable backend
// (embedded chromem-go, or an external Qdrant/Pinecone/Weaviate/Chroma/
// Milvus service), used by the tool layer's search_similar_documents tool
// and by the review queue's duplicate-entity detection.
package vector

import "context"

// Result is one similarity match returned by a Search call.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
	Vector   []float32 // stored vector; filled only by Qdrant and Pinecone
}

// Provider is the interface every concrete vector backend implements.
type Provider interface {
	// Name identifies the provider for logging ("chromem", "qdrant", ...).
	Name() string

	// Upsert inserts or replaces a vector with its metadata.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Search returns the topK nearest vectors in collection.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter is Search restricted to vectors matching filter.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes a single vector by id.
	Delete(ctx context.Context, collection string, id string) error

	// DeleteByFilter removes every vector matching filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// CreateCollection ensures a collection exists with the given dimension.
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error

	// DeleteCollection removes a collection and all its vectors.
	DeleteCollection(ctx context.Context, collection string) error

	Close() error
}

// NilProvider is a no-op Provider used when vector search is unconfigured.
// Search calls return no results rather than an error, so the
// search_similar_documents tool degrades gracefully instead of failing the
// whole analysis round.
type NilProvider struct{}

func (NilProvider) Name() string { return "nil" }

func (NilProvider) Upsert(context.Context, string, string, []float32, map[string]any) error {
	return nil
}

func (NilProvider) Search(context.Context, string, []float32, int) ([]Result, error) {
	return nil, nil
}

func (NilProvider) SearchWithFilter(context.Context, string, []float32, int, map[string]any) ([]Result, error) {
	return nil, nil
}

func (NilProvider) Delete(context.Context, string, string) error { return nil }

func (NilProvider) DeleteByFilter(context.Context, string, map[string]any) error { return nil }

func (NilProvider) CreateCollection(context.Context, string, int) error { return nil }

func (NilProvider) DeleteCollection(context.Context, string) error { return nil }

func (NilProvider) Close() error { return nil }

var _ Provider = NilProvider{}
var _ Provider = (*ChromemProvider)(nil)
var _ Provider = (*QdrantProvider)(nil)
var _ Provider = (*PineconeProvider)(nil)
var _ Provider = (*WeaviateProvider)(nil)
var _ Provider = (*ChromaProvider)(nil)
var _ Provider = (*MilvusProvider)(nil)
