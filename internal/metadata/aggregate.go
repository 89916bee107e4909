package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AggregateStore keeps every record in one JSON object file keyed by
// artifact name.
type AggregateStore struct {
	root     string
	filename string
	mapping  *cacheView
}

// NewAggregateStore creates a store over root/filename.
func NewAggregateStore(root, filename string) *AggregateStore {
	s := &AggregateStore{root: root, filename: filename}
	s.mapping = newCacheView(s.readDisk)
	return s
}

// Path returns the aggregate file path; name is irrelevant for this layout.
func (s *AggregateStore) Path(string) string {
	return filepath.Join(s.root, s.filename)
}

// Strategy identifies this store as the aggregate layout.
func (s *AggregateStore) Strategy() Strategy {
	return StrategyAggregate
}

// Load returns the full mapping, reading the aggregate file on a cache miss.
// A missing file is first use and yields an empty mapping.
func (s *AggregateStore) Load(ctx context.Context) (Mapping, error) {
	return s.mapping.get(ctx)
}

func (s *AggregateStore) readDisk(ctx context.Context) (Mapping, error) {
	data, err := os.ReadFile(s.Path(""))
	if err != nil {
		if os.IsNotExist(err) {
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.Path(""), err)
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.Path(""), err)
	}
	if m == nil {
		m = Mapping{}
	}
	return m, nil
}

// Save validates every record and then atomically rewrites the aggregate
// file. On ErrNotSerializable the file is untouched.
func (s *AggregateStore) Save(ctx context.Context, m Mapping) error {
	if err := validate(m); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	if err := writeFileAtomic(s.Path(""), data); err != nil {
		return fmt.Errorf("saving aggregate metadata: %w", err)
	}

	s.mapping.set(ctx, m)
	logFlush(StrategyAggregate, s.Path(""), len(m))
	return nil
}

// Delete removes name's record and rewrites the aggregate file.
func (s *AggregateStore) Delete(ctx context.Context, name string) error {
	m, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return fmt.Errorf("no metadata record for %q", name)
	}
	delete(m, name)
	return s.Save(ctx, m)
}

// Invalidate drops the cached mapping so the next Load re-reads the file.
func (s *AggregateStore) Invalidate(ctx context.Context) {
	s.mapping.invalidate(ctx)
}

// Flush is a no-op: Save already writes eagerly on every mutation.
func (s *AggregateStore) Flush(ctx context.Context) error {
	return nil
}
