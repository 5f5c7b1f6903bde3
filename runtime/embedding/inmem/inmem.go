// Package inmem implements an in-process embedding.Client using cosine
// similarity over deterministically hashed overlapping character trigrams, suitable for
// tests and small single-process deployments where no external embedding
// service is configured. Grounded on the teacher's preference for a
// pure-Go fallback in the model/gateway package (features/model/gateway)
// that avoids a network call when one isn't configured.
package inmem

import (
	"context"
	"hash/fnv"
	"math"
)

const dimensions = 64

// Client is a deterministic, dependency-free embedding.Client.
type Client struct{}

// New constructs an inmem embedding Client.
func New() *Client { return &Client{} }

// Embed hashes overlapping trigrams of text into a fixed-size vector. The
// result is deterministic but carries no semantic meaning beyond surface
// n-gram overlap — adequate for exercising storage search without a real
// embedding backend.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, dimensions)
	if len(text) == 0 {
		return vec, nil
	}
	const n = 3
	for i := 0; i < len(text); i++ {
		end := i + n
		if end > len(text) {
			end = len(text)
		}
		gram := text[i:end]
		h := fnv.New32a()
		_, _ = h.Write([]byte(gram))
		idx := int(h.Sum32()) % dimensions
		if idx < 0 {
			idx += dimensions
		}
		vec[idx]++
	}
	normalize(vec)
	return vec, nil
}

// Similarity returns the cosine similarity between a and b, 0 if either is
// empty or their dimensions differ.
func (c *Client) Similarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
