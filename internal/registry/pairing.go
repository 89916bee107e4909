package registry

import (
	"fmt"
	"os"
	"sort"

	"github.com/Digital-Pathology/ModelManager/internal/metadata"
)

// pairedNames derives the artifact set for the per-artifact strategy:
// enumerate the root, sort, and partition the sorted entries into
// consecutive pairs. Each pair must be exactly one payload file and one
// metadata file sharing a base name. Any mismatch, and any unpaired
// leftover entry, is structural corruption.
//
// The listing is recomputed on every call: an external writer is not
// synchronized against, so caching here would hide corruption.
func pairedNames(n Naming) ([]string, error) {
	entries, err := os.ReadDir(n.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", n.Root, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	if len(names)%2 != 0 {
		return nil, &CorruptionError{
			Dir:     n.Root,
			Entries: names[len(names)-1:],
			Reason:  "odd entry count, artifact file is unpaired",
		}
	}

	artifacts := make([]string, 0, len(names)/2)
	for i := 0; i < len(names); i += 2 {
		first, second := names[i], names[i+1]
		name := ArtifactName(first)
		if ArtifactName(second) != name {
			return nil, &CorruptionError{
				Dir:     n.Root,
				Entries: []string{first, second},
				Reason:  "adjacent entries resolve to different artifact names",
			}
		}
		// Same base name is not enough: the pair must be exactly the
		// payload file and the metadata file.
		want1, want2 := name+n.PayloadExt, name+n.MetadataExt
		if !(first == want1 && second == want2) && !(first == want2 && second == want1) {
			return nil, &CorruptionError{
				Dir:     n.Root,
				Entries: []string{first, second},
				Reason:  fmt.Sprintf("expected %s and %s", want1, want2),
			}
		}
		artifacts = append(artifacts, name)
	}
	return artifacts, nil
}

// aggregateNames derives the artifact set for the aggregate strategy: every
// directory entry other than the aggregate file must be a payload file with
// a record in the mapping, and every mapping key must have its payload
// file. Any asymmetry is structural corruption.
func aggregateNames(n Naming, aggregateFile string, m metadata.Mapping) ([]string, error) {
	entries, err := os.ReadDir(n.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", n.Root, err)
	}

	onDisk := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Name() == aggregateFile {
			continue
		}
		name := ArtifactName(entry.Name())
		if entry.Name() != name+n.PayloadExt {
			return nil, &CorruptionError{
				Dir:     n.Root,
				Entries: []string{entry.Name()},
				Reason:  "entry is not a payload file",
			}
		}
		if _, ok := m[name]; !ok {
			return nil, &CorruptionError{
				Dir:     n.Root,
				Entries: []string{entry.Name()},
				Reason:  "payload file has no metadata record",
			}
		}
		onDisk[name] = true
	}

	artifacts := make([]string, 0, len(m))
	for name := range m {
		if !onDisk[name] {
			return nil, &CorruptionError{
				Dir:     n.Root,
				Entries: []string{name + n.PayloadExt},
				Reason:  "metadata record has no payload file",
			}
		}
		artifacts = append(artifacts, name)
	}
	sort.Strings(artifacts)
	return artifacts, nil
}
