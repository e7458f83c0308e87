package fingerprint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() Input {
	return Input{
		Sources: []Source{
			{Name: "docs", Type: "filesystem", Parameters: map[string]string{"path": "/data", "glob": "*.pdf"}},
		},
		EmbeddingProvider:   "openai",
		EmbeddingModel:      "text-embedding-3-large",
		EmbeddingDimensions: 3072,
		OntologyIDs:         []string{"finance", "legal"},
		OntologyVersions:    map[string]string{"finance": "2.1", "legal": "1.0"},
		StorageTarget:       "postgres://artifacts",
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a, err := Compute(validInput())
	require.NoError(t, err)

	b, err := Compute(validInput())
	require.NoError(t, err)

	assert.Equal(t, a.ConfigHash, b.ConfigHash)
	assert.Equal(t, a.RunID, b.RunID)
	assert.Len(t, a.RunID, 16)
	assert.Len(t, a.ConfigHash, 64)
}

func TestCompute_IndependentOfMapKeyOrder(t *testing.T) {
	in1 := validInput()
	in1.Sources[0].Parameters = map[string]string{"path": "/data", "glob": "*.pdf"}

	in2 := validInput()
	in2.Sources[0].Parameters = map[string]string{"glob": "*.pdf", "path": "/data"}

	r1, err := Compute(in1)
	require.NoError(t, err)
	r2, err := Compute(in2)
	require.NoError(t, err)

	assert.Equal(t, r1.RunID, r2.RunID)
}

func TestCompute_DifferentConfigDifferentHash(t *testing.T) {
	r1, err := Compute(validInput())
	require.NoError(t, err)

	altered := validInput()
	altered.EmbeddingModel = "text-embedding-3-small"
	r2, err := Compute(altered)
	require.NoError(t, err)

	assert.NotEqual(t, r1.RunID, r2.RunID)
}

func TestCompute_RejectsMissingSources(t *testing.T) {
	in := validInput()
	in.Sources = nil

	_, err := Compute(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestCompute_RejectsMissingStorageTarget(t *testing.T) {
	in := validInput()
	in.StorageTarget = ""

	_, err := Compute(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestCompute_RejectsSourceMissingTypeOrName(t *testing.T) {
	in := validInput()
	in.Sources[0].Type = ""

	_, err := Compute(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}
