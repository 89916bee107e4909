// Package factory provides the reconstruction codec for artifact factories.
//
// A factory is a zero-argument constructor that produces a fresh,
// uninitialized instance of an artifact's runtime shape. Rather than
// embedding executable logic in metadata (a code-execution capability), the
// codec works against a closed set of factories the caller registers ahead
// of time: only the chosen factory's name travels in the metadata, encoded
// as a prefixed token. Tokens are interpreted strictly against the local
// registration set; anything unrecognized fails loudly instead of guessing.
package factory

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MetadataKey is the reserved metadata key holding a factory token.
const MetadataKey = "__factory__"

// DefaultPrefix is the sentinel prefix marking a metadata value as a
// factory token.
const DefaultPrefix = "factory://"

// formatVersion tags the token layout. Tokens written by a different,
// unknown layout must not be interpreted.
const formatVersion = "v1"

// Func is a zero-argument factory producing a fresh instance.
type Func func() any

// Stateful is implemented by instances that can adopt persisted state after
// construction. The registry builds the instance via its factory and then
// applies the deserialized payload state through this interface.
type Stateful interface {
	ApplyState(state any) error
}

// ErrDecodeIncompatible indicates a factory token that cannot be
// reconstructed against the local registration set.
var ErrDecodeIncompatible = errors.New("factory token cannot be decoded")

// DecodeIncompatibleError carries the offending token and the artifact it
// was resolved for.
type DecodeIncompatibleError struct {
	Token   string // the token as found in metadata
	Context string // artifact name the decode was attempted for
	Reason  string
}

func (e *DecodeIncompatibleError) Error() string {
	return fmt.Sprintf("decoding factory token %q for %q: %s", e.Token, e.Context, e.Reason)
}

func (e *DecodeIncompatibleError) Unwrap() error {
	return ErrDecodeIncompatible
}

// Registry holds the closed set of named factories available for
// reconstruction. Registration happens up front; encode and decode only
// operate on registered names.
type Registry struct {
	mu        sync.RWMutex
	prefix    string
	factories map[string]Func
}

// NewRegistry creates an empty factory registry using prefix as the token
// sentinel. An empty prefix selects DefaultPrefix.
func NewRegistry(prefix string) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Registry{
		prefix:    prefix,
		factories: make(map[string]Func),
	}
}

// Prefix returns the sentinel prefix tokens are written with.
func (r *Registry) Prefix() string {
	return r.prefix
}

// Register adds a named factory. Registering a name twice is an error; the
// set is meant to be assembled once at startup.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("factory name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("factory %q cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("factory %q already registered", name)
	}
	r.factories[name] = fn
	return nil
}

// Names returns the registered factory names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Encode produces the metadata token for a registered factory name.
func (r *Registry) Encode(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.factories[name]; !ok {
		return "", fmt.Errorf("factory %q is not registered", name)
	}
	return r.prefix + formatVersion + ":" + name, nil
}

// Decode reverses Encode, resolving a token back to a live factory.
// contextName labels failures with the artifact the token belongs to.
func (r *Registry) Decode(token, contextName string) (Func, error) {
	rest, ok := strings.CutPrefix(token, r.prefix)
	if !ok {
		return nil, &DecodeIncompatibleError{
			Token:   token,
			Context: contextName,
			Reason:  fmt.Sprintf("missing sentinel prefix %q", r.prefix),
		}
	}

	version, name, ok := strings.Cut(rest, ":")
	if !ok || name == "" {
		return nil, &DecodeIncompatibleError{
			Token:   token,
			Context: contextName,
			Reason:  "malformed token body",
		}
	}
	if version != formatVersion {
		return nil, &DecodeIncompatibleError{
			Token:   token,
			Context: contextName,
			Reason:  fmt.Sprintf("unsupported token version %q", version),
		}
	}

	r.mu.RLock()
	fn, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &DecodeIncompatibleError{
			Token:   token,
			Context: contextName,
			Reason:  fmt.Sprintf("factory %q is not registered", name),
		}
	}
	return fn, nil
}

// IsToken reports whether a metadata value looks like a factory token for
// this registry (carries the sentinel prefix).
func (r *Registry) IsToken(value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	if !strings.HasPrefix(s, r.prefix) {
		return "", false
	}
	return s, true
}
