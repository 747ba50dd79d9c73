package entity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoxCenter(t *testing.T) {
	b := Box{XMin: 10, YMin: 20, XMax: 18, YMax: 26}
	x, y := b.Center()
	require.Equal(t, 14.0, x)
	require.Equal(t, 23.0, y)
	require.Equal(t, 48.0, b.Area())
}

func TestAddPrediction_AssignsSequentialIDs(t *testing.T) {
	r := NewResult()

	require.NoError(t, r.AddPrediction(KindBoxes, Box{XMax: 5, YMax: 5}, 0.9, "scratch", 480, 640))
	require.NoError(t, r.AddPrediction(KindPolygons, Polygon{Points: [][2]float64{{0, 0}, {5, 0}, {5, 5}}}, 0.9, "scratch", 480, 640))
	require.NoError(t, r.AddPrediction(KindKeypoints, Point2d{X: 1, Y: 2}, 0.5, "pin", 480, 640))

	set := r.Labels()
	require.NotNil(t, set)
	require.Equal(t, 480, set.ImageHeight)
	require.Equal(t, 640, set.ImageWidth)
	require.Equal(t, 3, set.Count())
	for i, p := range set.Predictions {
		require.Equal(t, i, p.ID)
	}
	require.Equal(t, []string{"scratch", "scratch", "pin"}, set.Labels())
}

func TestAddPrediction_DimensionMismatch(t *testing.T) {
	r := NewResult()

	require.NoError(t, r.AddPrediction(KindBoxes, Box{XMax: 1, YMax: 1}, 0.9, "defect", 480, 640))
	err := r.AddPrediction(KindBoxes, Box{XMax: 2, YMax: 2}, 0.8, "defect", 480, 480)

	var mismatch *DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, [2]int{480, 640}, mismatch.Want)
	require.Equal(t, [2]int{480, 480}, mismatch.Got)
	require.Equal(t, 1, r.Labels().Count())
}

func TestAddPrediction_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		kind  PredictionKind
		value AnnotationValue
		score float64
		want  error
	}{
		{name: "unknown kind", kind: "cuboids", value: Box{}, score: 0.5, want: ErrUnknownKind},
		{name: "kind mismatch", kind: KindMasks, value: Box{}, score: 0.5, want: ErrKindMismatch},
		{name: "nil value", kind: KindBoxes, value: nil, score: 0.5, want: ErrKindMismatch},
		{name: "score above one", kind: KindBoxes, value: Box{}, score: 1.2, want: ErrConfidenceRange},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResult()
			err := r.AddPrediction(tc.kind, tc.value, tc.score, "x", 10, 10)
			require.ErrorIs(t, err, tc.want)
			require.Nil(t, r.Labels())
		})
	}
}

func TestPredictionSetJSON(t *testing.T) {
	r := NewResult()
	require.NoError(t, r.AddPrediction(KindBoxes, Box{XMin: 1, YMin: 2, XMax: 3, YMax: 4}, 0.75, "dent", 100, 200))
	require.NoError(t, r.AddPrediction(KindMasks, Mask{Width: 2, Height: 1, Bitmap: []bool{true, false}}, 0.6, "dent", 100, 200))

	data, err := json.Marshal(r.Labels())
	require.NoError(t, err)

	var decoded PredictionSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, *r.Labels(), decoded)
}
