package registry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Digital-Pathology/ModelManager/internal/factory"
	"github.com/Digital-Pathology/ModelManager/internal/metadata"
	"github.com/Digital-Pathology/ModelManager/internal/payload"
	"github.com/Digital-Pathology/ModelManager/internal/pubsub"
	"github.com/Digital-Pathology/ModelManager/internal/registry"
)

// jsonCodec is a stand-in for an application-supplied object serializer.
type jsonCodec struct{}

func (jsonCodec) Serialize(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Deserialize(data []byte) (any, error) {
	var v any
	err := json.Unmarshal(data, &v)
	return v, err
}

// classifier is a reconstructable artifact: a factory builds the empty
// shape, ApplyState adopts the persisted state.
type classifier struct {
	Threshold float64
	Labels    []string
}

func (c *classifier) ApplyState(state any) error {
	m, ok := state.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected state shape %T", state)
	}
	if threshold, ok := m["threshold"].(float64); ok {
		c.Threshold = threshold
	}
	if labels, ok := m["labels"].([]any); ok {
		for _, label := range labels {
			if s, ok := label.(string); ok {
				c.Labels = append(c.Labels, s)
			}
		}
	}
	return nil
}

func openRaw(t *testing.T, opts registry.Options) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(opts, payload.Raw{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegistry_EndToEnd_FilesStrategy(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := openRaw(t, registry.Options{Root: root})

	ok, err := reg.Has(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	err = reg.Save(ctx, "alpha", []byte{0x01, 0x02}, metadata.Record{"k": 1}, false)
	require.NoError(t, err)

	ok, err = reg.Has(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)

	value, record, err := reg.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, value)
	// JSON decoding yields float64 for numbers.
	assert.Equal(t, float64(1), record["k"])

	require.NoError(t, reg.Delete(ctx, "alpha"))

	names, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	ok, err = reg.Has(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_EndToEnd_AggregateStrategy(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := openRaw(t, registry.Options{Root: root, Strategy: metadata.StrategyAggregate})

	require.NoError(t, reg.Save(ctx, "alpha", []byte("payload"), metadata.Record{"k": 1}, false))
	require.NoError(t, reg.Save(ctx, "beta", []byte("payload"), nil, false))

	names, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	// The aggregate file holds both records.
	data, err := os.ReadFile(filepath.Join(root, registry.DefaultAggregateFile))
	require.NoError(t, err)
	var m map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Len(t, m, 2)

	require.NoError(t, reg.Delete(ctx, "alpha"))
	names, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, names)
}

func TestRegistry_NoOverwrite(t *testing.T) {
	ctx := context.Background()
	reg := openRaw(t, registry.Options{Root: t.TempDir()})

	require.NoError(t, reg.Save(ctx, "alpha", []byte("one"), nil, false))

	err := reg.Save(ctx, "alpha", []byte("two"), nil, false)
	require.ErrorIs(t, err, registry.ErrNoOverwrite)

	// The original payload survives a refused overwrite.
	value, _, err := reg.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), value)

	require.NoError(t, reg.Save(ctx, "alpha", []byte("two"), metadata.Record{"v": 2}, true))
	value, record, err := reg.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), value)
	assert.Equal(t, float64(2), record["v"])
}

func TestRegistry_LoadAndDeleteMissing(t *testing.T) {
	ctx := context.Background()
	reg := openRaw(t, registry.Options{Root: t.TempDir()})

	_, _, err := reg.Load(ctx, "ghost")
	require.ErrorIs(t, err, registry.ErrNotFound)

	err = reg.Delete(ctx, "ghost")
	require.ErrorIs(t, err, registry.ErrNotFound)

	_, err = reg.Info(ctx, "ghost")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRegistry_InvalidNames(t *testing.T) {
	ctx := context.Background()
	reg := openRaw(t, registry.Options{Root: t.TempDir()})

	for _, name := range []string{"", "a.b", "a/b", "../escape"} {
		err := reg.Save(ctx, name, []byte("x"), nil, false)
		assert.ErrorIs(t, err, registry.ErrInvalidName, "name %q", name)
	}
}

func TestRegistry_MissingMetadataFileIsCorruption(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := openRaw(t, registry.Options{Root: root})

	require.NoError(t, reg.Save(ctx, "alpha", []byte("x"), nil, false))
	require.NoError(t, os.Remove(filepath.Join(root, "alpha.model_info")))

	_, err := reg.List(ctx)
	require.ErrorIs(t, err, registry.ErrCorrupted)

	_, err = reg.Has(ctx, "alpha")
	require.ErrorIs(t, err, registry.ErrCorrupted)
}

func TestRegistry_NotSerializableLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := openRaw(t, registry.Options{Root: root})

	// Channels are not JSON-representable.
	err := reg.Save(ctx, "alpha", []byte("x"), metadata.Record{"bad": make(chan int)}, false)
	require.ErrorIs(t, err, metadata.ErrNotSerializable)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "a rejected save must not leave files behind")
}

func TestRegistry_FactoryReconstruction(t *testing.T) {
	ctx := context.Background()

	factories := factory.NewRegistry("")
	require.NoError(t, factories.Register("classifier", func() any { return &classifier{} }))

	reg, err := registry.Open(registry.Options{Root: t.TempDir()}, jsonCodec{}, factories)
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	token, err := factories.Encode("classifier")
	require.NoError(t, err)

	state := map[string]any{"threshold": 0.75, "labels": []any{"tumor", "healthy"}}
	meta := metadata.Record{"description": "demo", factory.MetadataKey: token}
	require.NoError(t, reg.Save(ctx, "clf", state, meta, false))

	value, record, err := reg.Load(ctx, "clf")
	require.NoError(t, err)
	assert.Equal(t, token, record[factory.MetadataKey])

	clf, ok := value.(*classifier)
	require.True(t, ok, "load must return the factory-built instance, got %T", value)
	assert.Equal(t, 0.75, clf.Threshold)
	assert.Equal(t, []string{"tumor", "healthy"}, clf.Labels)
}

func TestRegistry_SaveRejectsUndecodableToken(t *testing.T) {
	ctx := context.Background()

	reg, err := registry.Open(registry.Options{Root: t.TempDir()}, jsonCodec{}, factory.NewRegistry(""))
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	meta := metadata.Record{factory.MetadataKey: "factory://v1:unregistered"}
	err = reg.Save(ctx, "clf", map[string]any{}, meta, false)
	require.ErrorIs(t, err, factory.ErrDecodeIncompatible)

	meta = metadata.Record{factory.MetadataKey: 42}
	err = reg.Save(ctx, "clf", map[string]any{}, meta, false)
	require.ErrorIs(t, err, factory.ErrDecodeIncompatible)
}

func TestRegistry_ChangeEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := openRaw(t, registry.Options{Root: t.TempDir()})
	events := reg.Subscribe(ctx)

	require.NoError(t, reg.Save(ctx, "alpha", []byte("x"), nil, false))
	require.NoError(t, reg.Save(ctx, "alpha", []byte("y"), nil, true))
	require.NoError(t, reg.Delete(ctx, "alpha"))

	got := []pubsub.EventType{(<-events).Type, (<-events).Type, (<-events).Type}
	assert.Equal(t, []pubsub.EventType{pubsub.CreatedEvent, pubsub.UpdatedEvent, pubsub.DeletedEvent}, got)
}

func TestRegistry_AutoRefreshSeesExternalWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := t.TempDir()

	reg, err := registry.Open(registry.Options{
		Root:                root,
		Strategy:            metadata.StrategyAggregate,
		AutoRefresh:         true,
		AutoRefreshDebounce: 50 * time.Millisecond,
	}, payload.Raw{}, nil)
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	events := reg.Subscribe(ctx)
	require.NoError(t, reg.Save(ctx, "alpha", []byte("x"), nil, false))

	// Another process adds an artifact: payload file plus a rewrite of the
	// aggregate mapping, behind the registry's back.
	require.NoError(t, os.WriteFile(filepath.Join(root, "beta.model"), []byte("y"), 0644))
	external, err := json.Marshal(metadata.Mapping{"alpha": {}, "beta": {"k": 1}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, registry.DefaultAggregateFile), external, 0644))

	// The watcher drops the cached mapping after the debounce window; the
	// listing may report transient corruption until the fresh mapping is
	// loaded, then both artifacts appear.
	require.Eventually(t, func() bool {
		names, err := reg.List(ctx)
		return err == nil && len(names) == 2
	}, 5*time.Second, 20*time.Millisecond, "external artifact never became visible")

	record, err := reg.Info(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, float64(1), record["k"])

	sawInvalidated := false
	for !sawInvalidated {
		select {
		case event := <-events:
			sawInvalidated = event.Type == pubsub.InvalidatedEvent
		case <-time.After(5 * time.Second):
			t.Fatal("no invalidation event after an external change")
		}
	}
}

func TestRegistry_Close(t *testing.T) {
	ctx := context.Background()
	reg, err := registry.Open(registry.Options{Root: t.TempDir()}, payload.Raw{}, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close(), "close is idempotent")

	_, err = reg.List(ctx)
	require.ErrorIs(t, err, registry.ErrClosed)
	err = reg.Save(ctx, "alpha", []byte("x"), nil, false)
	require.ErrorIs(t, err, registry.ErrClosed)
}

func TestRegistry_PropertyBased_LifecycleConsistency(t *testing.T) {
	base := t.TempDir()
	iteration := 0

	rapid.Check(t, func(t *rapid.T) {
		iteration++
		root := filepath.Join(base, fmt.Sprintf("run-%d", iteration))

		reg, err := registry.Open(registry.Options{Root: root}, payload.Raw{}, nil)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer func() { _ = reg.Close() }()

		ctx := context.Background()
		model := map[string][]byte{}

		numOps := rapid.IntRange(1, 40).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			name := rapid.StringMatching(`[a-e]{1,3}`).Draw(t, "name")

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0: // save with overwrite
				data := []byte(rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "payload"))
				if err := reg.Save(ctx, name, data, metadata.Record{"i": i}, true); err != nil {
					t.Fatalf("save %q: %v", name, err)
				}
				model[name] = data

			case 1: // delete
				err := reg.Delete(ctx, name)
				if _, tracked := model[name]; tracked {
					if err != nil {
						t.Fatalf("delete %q: %v", name, err)
					}
					delete(model, name)
				} else if err == nil {
					t.Fatalf("delete %q: expected not-found", name)
				}

			case 2: // list matches the model
				names, err := reg.List(ctx)
				if err != nil {
					t.Fatalf("list: %v", err)
				}
				if len(names) != len(model) {
					t.Fatalf("list: got %d names, model has %d", len(names), len(model))
				}
			}
		}

		// Every tracked artifact loads back its exact payload.
		for name, want := range model {
			value, _, err := reg.Load(ctx, name)
			if err != nil {
				t.Fatalf("load %q: %v", name, err)
			}
			if string(value.([]byte)) != string(want) {
				t.Fatalf("load %q: got %q, want %q", name, value, want)
			}
		}
	})
}
