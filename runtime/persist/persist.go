// Package persist defines the byte-addressable key/value interfaces spec
// §1 and §6 treat as an external collaborator: on-disk persistence of
// active-agent, navigation stack, state, and storage. Concrete adapters
// (fsadapter, mongoadapter, redisadapter) implement Value and List against
// different backends; the runtime depends only on these interfaces.
package persist

import "context"

type (
	// Value is a single JSON-serializable slot addressed by a string key
	// (typically "<entityName>/<clientId>").
	Value interface {
		// Get decodes the stored value into dst. It returns false, nil if no
		// value is stored for key.
		Get(ctx context.Context, key string, dst any) (bool, error)

		// Set stores val under key, replacing any prior value.
		Set(ctx context.Context, key string, val any) error

		// Remove deletes any value stored under key. Removing a missing key
		// is not an error.
		Remove(ctx context.Context, key string) error
	}

	// List is an ordered collection of JSON-serializable items addressed
	// by a string key, stored under monotonically increasing numeric
	// sub-keys so push/pop preserve order (spec §6, PersistList).
	List interface {
		// Push appends item to the list stored under key.
		Push(ctx context.Context, key string, item any) error

		// Pop removes and decodes the last item of the list stored under
		// key into dst. Returns false, nil if the list is empty.
		Pop(ctx context.Context, key string, dst any) (bool, error)

		// All decodes every item of the list stored under key, in order,
		// into the slice pointed to by dstSlice.
		All(ctx context.Context, key string, dstSlice any) error

		// Clear removes every item stored under key.
		Clear(ctx context.Context, key string) error
	}
)
