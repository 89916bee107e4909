package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one <name><ext> JSON file per artifact.
type FileStore struct {
	root    string
	ext     string // includes the leading separator, e.g. ".model_info"
	mapping *cacheView
}

// NewFileStore creates a per-artifact store over root using ext as the
// metadata file extension.
func NewFileStore(root, ext string) *FileStore {
	s := &FileStore{root: root, ext: ext}
	s.mapping = newCacheView(s.readDisk)
	return s
}

// Path returns the metadata file path for name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.root, name+s.ext)
}

// Strategy identifies this store as the per-artifact layout.
func (s *FileStore) Strategy() Strategy {
	return StrategyFiles
}

// Load returns the full mapping, scanning the root directory on a cache
// miss. A root with no metadata files is first use and yields an empty
// mapping.
func (s *FileStore) Load(ctx context.Context) (Mapping, error) {
	return s.mapping.get(ctx)
}

func (s *FileStore) readDisk(ctx context.Context) (Mapping, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.root, err)
	}

	m := Mapping{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), s.ext) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), s.ext)

		data, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading record for %q: %w", name, err)
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("parsing record for %q: %w", name, err)
		}
		m[name] = record
	}
	return m, nil
}

// Save validates every record and then atomically rewrites each artifact's
// file. On ErrNotSerializable no file is touched.
func (s *FileStore) Save(ctx context.Context, m Mapping) error {
	if err := validate(m); err != nil {
		return err
	}

	for name, record := range m {
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fmt.Errorf("record for %q: %w: %v", name, ErrNotSerializable, err)
		}
		if err := writeFileAtomic(s.Path(name), data); err != nil {
			// Some files may already carry the new mapping; drop the
			// cached view so the next Load rescans the directory.
			s.mapping.invalidate(ctx)
			return fmt.Errorf("saving metadata for %q: %w", name, err)
		}
	}

	s.mapping.set(ctx, m)
	logFlush(StrategyFiles, s.root, len(m))
	return nil
}

// Delete removes name's metadata file.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := os.Remove(s.Path(name)); err != nil {
		return fmt.Errorf("removing metadata for %q: %w", name, err)
	}
	s.mapping.invalidate(ctx)
	return nil
}

// Invalidate drops the cached mapping so the next Load rescans the root.
func (s *FileStore) Invalidate(ctx context.Context) {
	s.mapping.invalidate(ctx)
}

// Flush is a no-op: Save already writes eagerly on every mutation.
func (s *FileStore) Flush(ctx context.Context) error {
	return nil
}
