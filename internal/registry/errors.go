package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Registry operation errors. Metadata serializability failures surface as
// metadata.ErrNotSerializable and factory token failures as
// factory.ErrDecodeIncompatible; both propagate through registry operations
// unchanged and remain matchable with errors.Is.
var (
	// ErrNotFound indicates the operation targeted an artifact the
	// registry does not have.
	ErrNotFound = errors.New("artifact not found")

	// ErrNoOverwrite indicates a save targeted an existing artifact
	// without explicit overwrite consent.
	ErrNoOverwrite = errors.New("artifact already exists and overwrite was not requested")

	// ErrCorrupted indicates the paired-file invariant is violated in the
	// root directory.
	ErrCorrupted = errors.New("artifact files are corrupted")

	// ErrInvalidName indicates an artifact name the naming scheme cannot
	// represent unambiguously.
	ErrInvalidName = errors.New("invalid artifact name")

	// ErrClosed indicates an operation on a registry after Close.
	ErrClosed = errors.New("registry is closed")
)

// CorruptionError reports a structural-corruption finding: which directory,
// which entries, and why they violate the pairing invariant.
type CorruptionError struct {
	Dir     string
	Entries []string
	Reason  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("structural corruption in %s: %s (entries: %s)",
		e.Dir, e.Reason, strings.Join(e.Entries, ", "))
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupted
}
