// Package fsadapter implements persist.Value and persist.List against the
// local filesystem, matching the default layout of spec §6: one JSON file
// per entity, written atomically (write-temp + rename) and self-healing on
// a corrupt read (spec §7, persistence-read-corrupt: remove and continue).
// Grounded on the teacher pack's filesystem-store idiom (see
// haasonsaas-nexus's internal/pairing.Store), generalized from a
// single-file key/value store to the spec's tree-of-files layout keyed by
// entity name and clientId.
package fsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"goa.design/agentswarm/runtime/telemetry"
)

// Adapter roots every Value/List at baseDir (default "./logs/data").
type Adapter struct {
	baseDir string
	logger  telemetry.Logger
	mu      sync.Mutex
}

// New constructs an Adapter rooted at baseDir. Pass telemetry.NewNoopLogger()
// when no logging is desired.
func New(baseDir string, logger telemetry.Logger) *Adapter {
	return &Adapter{baseDir: baseDir, logger: logger}
}

func (a *Adapter) path(key string) string {
	return filepath.Join(a.baseDir, filepath.FromSlash(key)+".json")
}

func (a *Adapter) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get implements persist.Value.
func (a *Adapter) Get(ctx context.Context, key string, dst any) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		a.logger.Warn(ctx, "removing corrupt persistence file", "path", path, "error", err.Error())
		_ = os.Remove(path)
		return false, nil
	}
	return true, nil
}

// Set implements persist.Value.
func (a *Adapter) Set(ctx context.Context, key string, val any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return a.writeFile(a.path(key), data)
}

// Remove implements persist.Value.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// listDoc is the on-disk shape for a List: numeric string keys mapping to
// raw JSON items, matching spec §6's "monotonically increasing numeric
// string keys" requirement while staying a single file per list.
type listDoc struct {
	Next  int                        `json:"next"`
	Items map[string]json.RawMessage `json:"items"`
}

func (a *Adapter) readList(path string, ctx context.Context) (*listDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &listDoc{Items: map[string]json.RawMessage{}}, nil
		}
		return nil, err
	}
	var doc listDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		a.logger.Warn(ctx, "removing corrupt persistence list", "path", path, "error", err.Error())
		_ = os.Remove(path)
		return &listDoc{Items: map[string]json.RawMessage{}}, nil
	}
	if doc.Items == nil {
		doc.Items = map[string]json.RawMessage{}
	}
	return &doc, nil
}

func sortedKeys(items map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, _ := strconv.Atoi(keys[i])
		nj, _ := strconv.Atoi(keys[j])
		return ni < nj
	})
	return keys
}

// Push implements persist.List.
func (a *Adapter) Push(ctx context.Context, key string, item any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.path(key)
	doc, err := a.readList(path, ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	doc.Items[strconv.Itoa(doc.Next)] = raw
	doc.Next++
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return a.writeFile(path, data)
}

// Pop implements persist.List.
func (a *Adapter) Pop(ctx context.Context, key string, dst any) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.path(key)
	doc, err := a.readList(path, ctx)
	if err != nil {
		return false, err
	}
	keys := sortedKeys(doc.Items)
	if len(keys) == 0 {
		return false, nil
	}
	last := keys[len(keys)-1]
	raw := doc.Items[last]
	delete(doc.Items, last)
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("fsadapter: decode popped item: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	return true, a.writeFile(path, data)
}

// All implements persist.List.
func (a *Adapter) All(ctx context.Context, key string, dstSlice any) error {
	a.mu.Lock()
	doc, err := a.readList(a.path(key), ctx)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	keys := sortedKeys(doc.Items)
	raws := make([]json.RawMessage, len(keys))
	for i, k := range keys {
		raws[i] = doc.Items[k]
	}
	arr, err := json.Marshal(raws)
	if err != nil {
		return err
	}
	return json.Unmarshal(arr, dstSlice)
}

// Clear implements persist.List.
func (a *Adapter) Clear(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Remove(a.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ClientKey composes the "<entityName>/<clientId>" key layout used across
// the default persistence tree, e.g. ClientKey("_swarm_active_agent/sales",
// "c1") -> "_swarm_active_agent/sales/c1".
func ClientKey(parts ...string) string {
	return strings.Join(parts, "/")
}
