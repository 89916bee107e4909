package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNaming_Paths(t *testing.T) {
	n := Naming{Root: "/data/models", PayloadExt: ".model", MetadataExt: ".model_info"}

	assert.Equal(t, filepath.Join("/data/models", "alpha.model"), n.PayloadPath("alpha"))
	assert.Equal(t, filepath.Join("/data/models", "alpha.model_info"), n.MetadataPath("alpha"))
}

func TestArtifactName_TruncatesAtFirstSeparator(t *testing.T) {
	assert.Equal(t, "alpha", ArtifactName("/data/models/alpha.model"))
	assert.Equal(t, "alpha", ArtifactName("alpha.model_info"))
	assert.Equal(t, "alpha", ArtifactName("alpha"))
	// Extensions containing dots still resolve to the base name.
	assert.Equal(t, "alpha", ArtifactName("alpha.model.bak"))
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("alpha"))
	require.NoError(t, ValidateName("model-v2_final"))

	assert.ErrorIs(t, ValidateName(""), ErrInvalidName)
	assert.ErrorIs(t, ValidateName("alpha.model"), ErrInvalidName)
	assert.ErrorIs(t, ValidateName("a/b"), ErrInvalidName)
	assert.ErrorIs(t, ValidateName(`a\b`), ErrInvalidName)
	assert.ErrorIs(t, ValidateName("../escape"), ErrInvalidName)
}

func TestNaming_PropertyBased_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-zA-Z0-9_-]{1,32}`).Draw(t, "name")
		if err := ValidateName(name); err != nil {
			t.Skip("generator produced an invalid name")
		}

		n := Naming{Root: "/tmp/reg", PayloadExt: ".model", MetadataExt: ".model_info"}

		if got := ArtifactName(n.PayloadPath(name)); got != name {
			t.Fatalf("payload path round-trip: got %q, want %q", got, name)
		}
		if got := ArtifactName(n.MetadataPath(name)); got != name {
			t.Fatalf("metadata path round-trip: got %q, want %q", got, name)
		}
	})
}
