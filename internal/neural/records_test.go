package neural

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoBlobs() [][]float64 {
	var data [][]float64
	for i := 0; i < 10; i++ {
		d := float64(i%5) * 0.1
		data = append(data, []float64{10 + d, 100 + d, 5})
		data = append(data, []float64{50 + d, 900 - d, 5})
	}
	return data
}

func TestRecordGravityRange(t *testing.T) {
	scores, err := RecordGravity(twoBlobs(), 2, RecordSeed)
	require.NoError(t, err)
	require.Len(t, scores, 20)

	top := 0.0
	for i, s := range scores {
		assert.Equal(t, i, s.Index)
		assert.GreaterOrEqual(t, s.Gravity, 1.0)
		assert.LessOrEqual(t, s.Gravity, 5.0)
		assert.LessOrEqual(t, len(s.Components), 3)
		top = max(top, s.Gravity)
	}
	assert.InDelta(t, 5.0, top, 1e-6)
	assert.InDelta(t, 1.0, minGravity(scores), 1e-9)

	// 两团数据分到不同簇
	assert.NotEqual(t, scores[0].Cluster, scores[1].Cluster)
	for i := 2; i < len(scores); i += 2 {
		assert.Equal(t, scores[0].Cluster, scores[i].Cluster)
		assert.Equal(t, scores[1].Cluster, scores[i+1].Cluster)
	}
}

func minGravity(scores []RecordScore) float64 {
	m := 5.0
	for _, s := range scores {
		m = min(m, s.Gravity)
	}
	return m
}

func TestRecordGravityDeterministic(t *testing.T) {
	a, err := RecordGravity(twoBlobs(), 3, RecordSeed)
	require.NoError(t, err)
	b, err := RecordGravity(twoBlobs(), 3, RecordSeed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRecordGravityDegenerate(t *testing.T) {
	_, err := RecordGravity(nil, 3, RecordSeed)
	assert.ErrorIs(t, err, ErrNoNumericData)

	scores, err := RecordGravity([][]float64{{1}, {1}, {1}}, 5, RecordSeed)
	require.NoError(t, err)
	for _, s := range scores {
		assert.Equal(t, 5.0, s.Gravity)
	}

	_, err = RecordGravity([][]float64{{1, 2}, {3}}, 2, RecordSeed)
	assert.Error(t, err)
}
