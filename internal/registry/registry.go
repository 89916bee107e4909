// Package registry implements the paired-file artifact registry.
//
// Each artifact is two co-located files sharing a base name: an opaque
// serialized payload and a human-readable JSON metadata record. The
// registry keeps the pair consistent, refuses accidental overwrites,
// detects structural corruption at listing time, and can rebuild an
// artifact's runtime shape through a named factory recorded in metadata.
//
// A registry instance is not safe for concurrent use by multiple processes
// against the same root directory: no lock is held across the
// read-modify-write of a metadata update, so two external writers
// last-writer-win on the aggregate mapping. In-process calls are serialized
// by a mutex. Callers needing cross-process safety must serialize
// externally.
package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Digital-Pathology/ModelManager/internal/factory"
	"github.com/Digital-Pathology/ModelManager/internal/log"
	"github.com/Digital-Pathology/ModelManager/internal/metadata"
	"github.com/Digital-Pathology/ModelManager/internal/pubsub"
	"github.com/Digital-Pathology/ModelManager/internal/watcher"
)

const tracerName = "github.com/Digital-Pathology/ModelManager/internal/registry"

// Codec serializes and deserializes artifact payloads. The registry never
// inspects payload bytes; the codec is supplied by the embedding
// application.
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// Default construction-time options.
const (
	DefaultPayloadExt    = ".model"
	DefaultMetadataExt   = ".model_info"
	DefaultAggregateFile = "registry.json"
)

// Options configure a registry at construction time.
type Options struct {
	// Root is the directory holding artifact files. Created if missing.
	Root string

	// PayloadExt is the payload file extension (default ".model").
	PayloadExt string

	// MetadataExt is the metadata file extension for the per-artifact
	// strategy (default ".model_info").
	MetadataExt string

	// Strategy fixes the metadata layout (default StrategyFiles).
	Strategy metadata.Strategy

	// AggregateFile names the aggregate mapping file for the aggregate
	// strategy (default "registry.json").
	AggregateFile string

	// AutoRefresh starts a file watcher that drops cached metadata when
	// the root changes outside this process.
	AutoRefresh bool

	// AutoRefreshDebounce coalesces watcher events (default 1s).
	AutoRefreshDebounce time.Duration
}

func (o *Options) applyDefaults() {
	if o.PayloadExt == "" {
		o.PayloadExt = DefaultPayloadExt
	}
	if o.MetadataExt == "" {
		o.MetadataExt = DefaultMetadataExt
	}
	if o.Strategy == "" {
		o.Strategy = metadata.StrategyFiles
	}
	if o.AggregateFile == "" {
		o.AggregateFile = DefaultAggregateFile
	}
	if o.AutoRefreshDebounce <= 0 {
		o.AutoRefreshDebounce = 1 * time.Second
	}
}

// Registry is the public-facing orchestrator over the naming scheme, the
// pairing validator, the metadata store, and the factory codec.
type Registry struct {
	id            string
	naming        Naming
	strategy      metadata.Strategy
	aggregateFile string
	codec         Codec
	store         metadata.Store
	factories     *factory.Registry
	tracer        trace.Tracer
	events        *pubsub.Broker[string]
	watch         *watcher.Watcher
	done          chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open constructs a registry over opts.Root, creating the directory if
// needed. codec is required; factories may be nil when no artifact uses
// reconstruction. Callers own the returned registry's lifecycle and must
// call Close on every exit path.
func Open(opts Options, codec Codec, factories *factory.Registry) (*Registry, error) {
	if codec == nil {
		return nil, fmt.Errorf("payload codec is required")
	}
	opts.applyDefaults()
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if opts.Strategy != metadata.StrategyFiles && opts.Strategy != metadata.StrategyAggregate {
		return nil, fmt.Errorf("unknown metadata strategy %q", opts.Strategy)
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root %s: %w", opts.Root, err)
	}

	if factories == nil {
		factories = factory.NewRegistry("")
	}

	var store metadata.Store
	switch opts.Strategy {
	case metadata.StrategyFiles:
		store = metadata.NewFileStore(opts.Root, opts.MetadataExt)
	case metadata.StrategyAggregate:
		store = metadata.NewAggregateStore(opts.Root, opts.AggregateFile)
	}

	r := &Registry{
		id:            uuid.NewString(),
		naming:        Naming{Root: opts.Root, PayloadExt: opts.PayloadExt, MetadataExt: opts.MetadataExt},
		strategy:      opts.Strategy,
		aggregateFile: opts.AggregateFile,
		codec:         codec,
		store:         store,
		factories:     factories,
		tracer:        otel.Tracer(tracerName),
		events:        pubsub.NewBroker[string](),
		done:          make(chan struct{}),
	}

	if opts.AutoRefresh {
		aggregate := ""
		if opts.Strategy == metadata.StrategyAggregate {
			aggregate = opts.AggregateFile
		}
		w, err := watcher.New(watcher.Config{
			Root:          opts.Root,
			Exts:          []string{opts.PayloadExt, opts.MetadataExt},
			AggregateFile: aggregate,
			DebounceDur:   opts.AutoRefreshDebounce,
		})
		if err != nil {
			return nil, fmt.Errorf("creating watcher: %w", err)
		}
		changes, err := w.Start()
		if err != nil {
			_ = w.Stop()
			return nil, fmt.Errorf("starting watcher: %w", err)
		}
		r.watch = w
		go r.refreshLoop(changes)
	}

	log.Info(log.CatRegistry, "registry opened",
		"id", r.id, "root", opts.Root, "strategy", opts.Strategy)

	return r, nil
}

// refreshLoop drops cached metadata whenever the watcher reports an
// external change to the root.
func (r *Registry) refreshLoop(changes <-chan struct{}) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
			r.store.Invalidate(context.Background())
			r.events.Publish(pubsub.InvalidatedEvent, "")
			log.Debug(log.CatWatcher, "external change, metadata cache dropped", "id", r.id)
		case <-r.done:
			return
		}
	}
}

// ID returns the registry instance identifier used in logs and traces.
func (r *Registry) ID() string {
	return r.id
}

// Subscribe returns a channel of change events (created, updated, deleted,
// invalidated) with the artifact name as payload. The channel closes when
// ctx is cancelled or the registry is closed.
func (r *Registry) Subscribe(ctx context.Context) <-chan pubsub.Event[string] {
	return r.events.Subscribe(ctx)
}

// names derives the current artifact set from the directory, enforcing the
// pairing invariant for the configured strategy.
func (r *Registry) names(ctx context.Context) ([]string, error) {
	if r.strategy == metadata.StrategyFiles {
		return pairedNames(r.naming)
	}
	m, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return aggregateNames(r.naming, r.aggregateFile, m)
}

// List returns the known artifact names, sorted ascending. Structural
// corruption in the root surfaces here as a CorruptionError.
func (r *Registry) List(ctx context.Context) (_ []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, span := r.startSpan(ctx, "registry.list", "")
	defer func() { r.endSpan(span, err) }()

	if r.closed {
		return nil, ErrClosed
	}
	return r.names(ctx)
}

// Has reports whether the paired-file invariant holds for name under the
// current directory listing.
func (r *Registry) Has(ctx context.Context, name string) (_ bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, span := r.startSpan(ctx, "registry.has", name)
	defer func() { r.endSpan(span, err) }()

	if r.closed {
		return false, ErrClosed
	}
	return r.has(ctx, name)
}

func (r *Registry) has(ctx context.Context, name string) (bool, error) {
	names, err := r.names(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Save persists value under name together with its metadata record.
// An existing artifact is only replaced when overwrite is true; otherwise
// ErrNoOverwrite is returned and nothing changes.
//
// Metadata is checked for JSON-serializability before anything touches
// disk, so a NotSerializable failure leaves no files behind. After that the
// payload is written first and the metadata second: if the metadata write
// fails, the orphaned payload is not silently repaired; the next List or
// Has surfaces it as structural corruption.
func (r *Registry) Save(ctx context.Context, name string, value any, meta metadata.Record, overwrite bool) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, span := r.startSpan(ctx, "registry.save", name)
	defer func() { r.endSpan(span, err) }()

	if r.closed {
		return ErrClosed
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	exists, err := r.has(ctx, name)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return fmt.Errorf("%q: %w", name, ErrNoOverwrite)
	}

	if meta == nil {
		meta = metadata.Record{}
	}
	if err := metadata.ValidateRecord(name, meta); err != nil {
		return err
	}
	if err := r.checkFactoryToken(name, meta); err != nil {
		return err
	}

	data, err := r.codec.Serialize(value)
	if err != nil {
		return fmt.Errorf("serializing payload for %q: %w", name, err)
	}
	if err := os.WriteFile(r.naming.PayloadPath(name), data, 0644); err != nil {
		return fmt.Errorf("writing payload for %q: %w", name, err)
	}

	mapping, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	mapping[name] = meta
	if err := r.store.Save(ctx, mapping); err != nil {
		// Known risk window: the payload is already on disk. The pairing
		// validator will flag the orphan on the next listing.
		log.Warn(log.CatRegistry, "metadata write failed after payload write",
			"id", r.id, "name", name)
		return err
	}

	eventType := pubsub.CreatedEvent
	if exists {
		eventType = pubsub.UpdatedEvent
	}
	r.events.Publish(eventType, name)
	log.Info(log.CatRegistry, "artifact saved",
		"id", r.id, "name", name, "bytes", len(data), "overwrote", exists)
	return nil
}

// checkFactoryToken validates the reserved metadata key up front so a bad
// token fails the save instead of the eventual load.
func (r *Registry) checkFactoryToken(name string, meta metadata.Record) error {
	raw, ok := meta[factory.MetadataKey]
	if !ok {
		return nil
	}
	token, ok := raw.(string)
	if !ok {
		return &factory.DecodeIncompatibleError{
			Token:   fmt.Sprintf("%v", raw),
			Context: name,
			Reason:  "factory token must be a string",
		}
	}
	_, err := r.factories.Decode(token, name)
	return err
}

// Load returns the artifact's payload object and metadata record. When the
// record carries a factory token, a fresh instance is built through the
// named factory and the deserialized payload state is applied onto it;
// otherwise the deserialized payload is returned verbatim. Load never
// mutates the registry.
func (r *Registry) Load(ctx context.Context, name string) (_ any, _ metadata.Record, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, span := r.startSpan(ctx, "registry.load", name)
	defer func() { r.endSpan(span, err) }()

	if r.closed {
		return nil, nil, ErrClosed
	}

	exists, err := r.has(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	mapping, err := r.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	record, ok := mapping[name]
	if !ok {
		return nil, nil, &CorruptionError{
			Dir:     r.naming.Root,
			Entries: []string{name + r.naming.PayloadExt},
			Reason:  "metadata record missing for listed artifact",
		}
	}

	data, err := os.ReadFile(r.naming.PayloadPath(name))
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload for %q: %w", name, err)
	}

	raw, hasToken := record[factory.MetadataKey]
	if !hasToken {
		value, err := r.codec.Deserialize(data)
		if err != nil {
			return nil, nil, fmt.Errorf("deserializing payload for %q: %w", name, err)
		}
		return value, record, nil
	}

	token, ok := raw.(string)
	if !ok {
		return nil, nil, &factory.DecodeIncompatibleError{
			Token:   fmt.Sprintf("%v", raw),
			Context: name,
			Reason:  "factory token must be a string",
		}
	}
	fn, err := r.factories.Decode(token, name)
	if err != nil {
		return nil, nil, err
	}

	instance := fn()
	state, err := r.codec.Deserialize(data)
	if err != nil {
		return nil, nil, fmt.Errorf("deserializing payload for %q: %w", name, err)
	}
	stateful, ok := instance.(factory.Stateful)
	if !ok {
		return nil, nil, &factory.DecodeIncompatibleError{
			Token:   token,
			Context: name,
			Reason:  "factory instance cannot adopt persisted state",
		}
	}
	if err := stateful.ApplyState(state); err != nil {
		return nil, nil, fmt.Errorf("applying state for %q: %w", name, err)
	}
	log.Debug(log.CatFactory, "artifact reconstructed", "id", r.id, "name", name, "token", token)
	return instance, record, nil
}

// Info returns name's metadata record without touching the payload.
func (r *Registry) Info(ctx context.Context, name string) (_ metadata.Record, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, span := r.startSpan(ctx, "registry.info", name)
	defer func() { r.endSpan(span, err) }()

	if r.closed {
		return nil, ErrClosed
	}

	exists, err := r.has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	mapping, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return mapping[name], nil
}

// Delete removes both of name's files. The payload goes first: if the
// operation is interrupted, the surviving metadata side keeps the
// structural-corruption detector able to flag the remainder rather than
// silently treating the artifact as gone.
func (r *Registry) Delete(ctx context.Context, name string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, span := r.startSpan(ctx, "registry.delete", name)
	defer func() { r.endSpan(span, err) }()

	if r.closed {
		return ErrClosed
	}

	exists, err := r.has(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	if err := os.Remove(r.naming.PayloadPath(name)); err != nil {
		return fmt.Errorf("removing payload for %q: %w", name, err)
	}
	if err := r.store.Delete(ctx, name); err != nil {
		return err
	}

	r.events.Publish(pubsub.DeletedEvent, name)
	log.Info(log.CatRegistry, "artifact deleted", "id", r.id, "name", name)
	return nil
}

// Close flushes the metadata store, stops the watcher, and closes the event
// broker. It is safe to call more than once; operations after Close return
// ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	close(r.done)
	if r.watch != nil {
		if err := r.watch.Stop(); err != nil {
			log.ErrorErr(log.CatWatcher, "stopping watcher", err, "id", r.id)
		}
	}
	err := r.store.Flush(context.Background())
	r.events.Close()
	log.Info(log.CatRegistry, "registry closed", "id", r.id)
	return err
}

func (r *Registry) startSpan(ctx context.Context, op, name string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("registry.id", r.id),
		attribute.String("registry.root", r.naming.Root),
	}
	if name != "" {
		attrs = append(attrs, attribute.String("artifact.name", name))
	}
	return r.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

func (r *Registry) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
