package migrate

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilterEmpty(t *testing.T) {
	for _, input := range []string{"", "  ", "{}", " {} "} {
		filter, err := BuildFilter(input)
		require.NoError(t, err, "input %q", input)
		assert.Nil(t, filter, "input %q", input)
	}
}

func TestBuildFilterEqualityConditions(t *testing.T) {
	filter, err := BuildFilter(`{"tenant":"acme","archived":false,"version":3}`)
	require.NoError(t, err)
	require.NotNil(t, filter)
	require.Len(t, filter.Must, 3)

	// Keys are applied in sorted order so runs are reproducible.
	first := filter.Must[0].GetField()
	require.NotNil(t, first)
	assert.Equal(t, "archived", first.Key)
	assert.Equal(t, false, first.GetMatch().GetBoolean())

	second := filter.Must[1].GetField()
	require.NotNil(t, second)
	assert.Equal(t, "tenant", second.Key)
	assert.Equal(t, "acme", second.GetMatch().GetKeyword())

	third := filter.Must[2].GetField()
	require.NotNil(t, third)
	assert.Equal(t, "version", third.Key)
	assert.Equal(t, int64(3), third.GetMatch().GetInteger())
}

func TestBuildFilterRejectsMalformedJSON(t *testing.T) {
	_, err := BuildFilter(`{"tenant":`)
	assert.Error(t, err)
}

func TestBuildFilterRejectsFractionalNumbers(t *testing.T) {
	_, err := BuildFilter(`{"score":0.5}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score")
}

func TestBuildFilterRejectsNestedValues(t *testing.T) {
	_, err := BuildFilter(`{"meta":{"a":1}}`)
	assert.Error(t, err)
}

func TestVectorsFromOutputNil(t *testing.T) {
	assert.Nil(t, vectorsFromOutput(nil))
}

func TestVectorsFromOutputSingle(t *testing.T) {
	out := &qdrant.VectorsOutput{
		VectorsOptions: &qdrant.VectorsOutput_Vector{
			Vector: &qdrant.VectorOutput{Data: []float32{0.1, 0.2, 0.3}},
		},
	}

	vectors := vectorsFromOutput(out)
	require.NotNil(t, vectors)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors.GetVector().GetData())
}
