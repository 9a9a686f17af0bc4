package gaze

import (
	"testing"
	"time"

	"AI_PROCTOR/go-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// meshFace builds a full 478-point face mesh with the three landmarks
// that matter set explicitly.
func meshFace(left, right, nose models.Point) Face {
	kps := make([]models.Point, 478)
	kps[LeftEyeIndex] = left
	kps[RightIrisIndex] = right
	kps[NoseTipIndex] = nose
	return Face{Keypoints: kps}
}

func TestClassifyForward(t *testing.T) {
	face := meshFace(
		models.Point{X: 0.40, Y: 0.40},
		models.Point{X: 0.60, Y: 0.41},
		models.Point{X: 0.50, Y: 0.55},
	)
	state, sample := Classify([]Face{face}, at)
	assert.Equal(t, models.GazeGood, state)
	require.NotNil(t, sample)
	assert.Equal(t, at, sample.Timestamp)
	assert.Equal(t, 0.60, sample.RightEye.X)
}

func TestClassifyThresholds(t *testing.T) {
	nose := models.Point{X: 0.5, Y: 0.5}
	cases := []struct {
		name        string
		left, right models.Point
		want        models.GazeState
	}{
		{"tilted head", models.Point{X: 0.4, Y: 0.40}, models.Point{X: 0.6, Y: 0.49}, models.GazeAway},
		{"vertical diff just under", models.Point{X: 0.4, Y: 0.40}, models.Point{X: 0.6, Y: 0.479}, models.GazeGood},
		{"turned sideways", models.Point{X: 0.6, Y: 0.4}, models.Point{X: 0.8, Y: 0.4}, models.GazeAway},
		{"horizontal diff just under", models.Point{X: 0.51, Y: 0.4}, models.Point{X: 0.727, Y: 0.4}, models.GazeGood},
		{"looking down", models.Point{X: 0.4, Y: 0.2}, models.Point{X: 0.6, Y: 0.2}, models.GazeAway},
		{"eye nose distance just under", models.Point{X: 0.4, Y: 0.26}, models.Point{X: 0.6, Y: 0.26}, models.GazeGood},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state, _ := Classify([]Face{meshFace(tc.left, tc.right, nose)}, at)
			assert.Equal(t, tc.want, state)
		})
	}
}

func TestClassifyNoFace(t *testing.T) {
	state, sample := Classify(nil, at)
	assert.Equal(t, models.GazeNoFace, state)
	assert.Nil(t, sample)
}

func TestClassifyShortKeypointSets(t *testing.T) {
	// Three points use the fallback indices 0, 1, 2.
	face := Face{Keypoints: []models.Point{
		{X: 0.4, Y: 0.4},
		{X: 0.6, Y: 0.4},
		{X: 0.5, Y: 0.5},
	}}
	state, sample := Classify([]Face{face}, at)
	assert.Equal(t, models.GazeGood, state)
	require.NotNil(t, sample)
	assert.Equal(t, 0.5, sample.NoseTip.X)

	// Two points cannot provide a nose tip.
	state, sample = Classify([]Face{{Keypoints: face.Keypoints[:2]}}, at)
	assert.Equal(t, models.GazeNoFace, state)
	assert.Nil(t, sample)

	state, _ = Classify([]Face{{}}, at)
	assert.Equal(t, models.GazeNoFace, state)
}

func TestLandmarks(t *testing.T) {
	cases := []struct {
		n                 int
		left, right, nose int
	}{
		{478, 33, 468, 4},
		{469, 33, 468, 4},
		{468, 33, 362, 4},
		{363, 33, 362, 4},
		{362, 33, 1, 4},
		{34, 33, 1, 4},
		{33, 0, 1, 4},
		{5, 0, 1, 4},
		{4, 0, 1, 2},
		{0, 0, 1, 2},
	}
	for _, tc := range cases {
		l, r, n := Landmarks(tc.n)
		assert.Equal(t, [3]int{tc.left, tc.right, tc.nose}, [3]int{l, r, n}, "n=%d", tc.n)
	}
}
