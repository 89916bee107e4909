// Package metadata persists the sidecar records describing artifacts.
//
// A registry instance uses exactly one persistence strategy: either one JSON
// file per artifact (FileStore) or a single aggregate JSON object keyed by
// artifact name (AggregateStore). Strategies are never mixed within a root
// directory.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/Digital-Pathology/ModelManager/internal/cache"
	"github.com/Digital-Pathology/ModelManager/internal/log"
)

// Record is one artifact's metadata: string keys to JSON-compatible values.
type Record map[string]any

// Mapping is the full artifact-name-to-record view of a store.
type Mapping map[string]Record

// Clone returns a copy sharing the records but not the top-level map, so
// the holder can merge or delete keys without reaching into anyone else's
// view.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return Mapping{}
	}
	return maps.Clone(m)
}

// Strategy selects how records are laid out on disk.
type Strategy string

const (
	// StrategyFiles stores one <name><ext> JSON file per artifact.
	StrategyFiles Strategy = "files"
	// StrategyAggregate stores all records in a single JSON object file.
	StrategyAggregate Strategy = "aggregate"
)

// ErrNotSerializable indicates a record value the JSON codec rejected.
// Nothing is written to disk when this is returned.
var ErrNotSerializable = errors.New("metadata is not JSON-serializable")

// cacheTTL bounds staleness of the in-memory mapping between watcher
// invalidations.
const cacheTTL = 5 * time.Minute

// Store loads and saves artifact metadata records.
//
// Save always takes the whole mapping: callers merge a single artifact's
// record into the loaded mapping and save everything, so the in-memory and
// on-disk views cannot diverge under interruption. There is no partial-key
// write API.
type Store interface {
	// Load returns the full mapping. A missing backing store means first
	// use, not an error: an empty mapping is returned. The returned
	// mapping is the caller's to mutate: it is detached from any cached
	// view, so merging into it and then failing Save leaves the store's
	// state untouched.
	Load(ctx context.Context) (Mapping, error)

	// Save persists the whole mapping. Every record is checked against the
	// JSON codec before anything is written; ErrNotSerializable means disk
	// was not touched.
	Save(ctx context.Context, m Mapping) error

	// Delete removes one artifact's record.
	Delete(ctx context.Context, name string) error

	// Path returns the on-disk location holding name's record. For the
	// aggregate strategy this is the aggregate file regardless of name.
	Path(name string) string

	// Strategy identifies the layout this store uses.
	Strategy() Strategy

	// Invalidate drops any cached view of the mapping. Called when the
	// root directory changed outside this process.
	Invalidate(ctx context.Context)

	// Flush forces any buffered state to disk. Stores in this package
	// write eagerly on every mutation, so Flush is cheap; it exists so
	// teardown has a guaranteed finalization path.
	Flush(ctx context.Context) error
}

// validate checks every record in the mapping against the JSON codec.
func validate(m Mapping) error {
	for name, record := range m {
		if _, err := json.Marshal(record); err != nil {
			return fmt.Errorf("record for %q: %w: %v", name, ErrNotSerializable, err)
		}
	}
	return nil
}

// ValidateRecord checks a single record against the JSON codec without
// touching any store.
func ValidateRecord(name string, record Record) error {
	if _, err := json.Marshal(record); err != nil {
		return fmt.Errorf("record for %q: %w: %v", name, ErrNotSerializable, err)
	}
	return nil
}

// writeFileAtomic writes data so that either the previous content or the
// full new content is observable, never a torn file: write to a temp file
// in the destination directory, then rename over the target.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// mappingKey is the single cache key a store's mapping lives under.
const mappingKey = "mapping"

// cacheView is the read-through cache both store implementations keep over
// their loaded mapping. The cached mapping is never shared with callers:
// get hands out a detached copy and set stores one, so a caller that merges
// into a loaded mapping and then fails Save cannot pollute the cache with
// the un-persisted mutation.
type cacheView struct {
	rt *cache.ReadThrough[string, Mapping]
}

func newCacheView(loader func(ctx context.Context) (Mapping, error)) *cacheView {
	mem := cache.NewInMemory[string, Mapping]("metadata", cache.DefaultExpiration, cache.DefaultCleanupInterval)
	return &cacheView{rt: cache.NewReadThrough(mem, loader, false)}
}

func (v *cacheView) get(ctx context.Context) (Mapping, error) {
	m, err := v.rt.Get(ctx, mappingKey, cacheTTL)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (v *cacheView) set(ctx context.Context, m Mapping) {
	v.rt.Put(ctx, mappingKey, m.Clone(), cacheTTL)
}

func (v *cacheView) invalidate(ctx context.Context) {
	v.rt.Invalidate(ctx, mappingKey)
}

func logFlush(strategy Strategy, path string, count int) {
	log.Debug(log.CatMetadata, "mapping flushed", "strategy", strategy, "path", path, "records", count)
}
