package registry

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Naming is the paired-file naming scheme: it maps artifact names to the
// canonical payload and metadata paths under a root directory, and back.
type Naming struct {
	Root        string
	PayloadExt  string // includes the leading separator, e.g. ".model"
	MetadataExt string // includes the leading separator, e.g. ".model_info"
}

// PayloadPath returns the canonical payload file path for name.
func (n Naming) PayloadPath(name string) string {
	return filepath.Join(n.Root, name+n.PayloadExt)
}

// MetadataPath returns the canonical metadata file path for name.
func (n Naming) MetadataPath(name string) string {
	return filepath.Join(n.Root, name+n.MetadataExt)
}

// ArtifactName extracts the artifact name from a payload or metadata file
// path: the basename truncated at the first extension separator.
func ArtifactName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// ValidateName rejects names the scheme cannot represent unambiguously.
// Names must be non-empty, must not contain the extension separator (name
// extraction truncates at the first '.'), and must stay inside the root.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case strings.ContainsRune(name, '.'):
		return fmt.Errorf("%w: %q contains the extension separator '.'", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}
