package hid

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeCasteljauEndpoints(t *testing.T) {
	t.Parallel()

	ctrl := []point{{0, 0}, {10, 40}, {70, 20}, {100, 100}}

	start := deCasteljau(ctrl, 0)
	assert.InDelta(t, 0, start.X, 1e-9)
	assert.InDelta(t, 0, start.Y, 1e-9)

	end := deCasteljau(ctrl, 1)
	assert.InDelta(t, 100, end.X, 1e-9)
	assert.InDelta(t, 100, end.Y, 1e-9)
}

func TestBezierPathLandsOnTarget(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(12345))

	testCases := []struct {
		name   string
		dx, dy float64
	}{
		{name: "diagonal", dx: 300, dy: -120},
		{name: "horizontal", dx: -50, dy: 0},
		{name: "tiny", dx: 2, dy: 3},
	}

	for _, tc := range testCases {
		path := bezierPath(rng, tc.dx, tc.dy, curveSteps, curvePerturb)
		require.Len(t, path, curveSteps, tc.name)
		last := path[len(path)-1]
		assert.Equal(t, tc.dx, last.X, tc.name)
		assert.Equal(t, tc.dy, last.Y, tc.name)
	}
}

func TestBezierPathStaysNearSegment(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(12345))
	dx, dy := 200.0, 0.0

	// With perturbation capped at curvePerturb and drift applied elsewhere,
	// the raw curve cannot wander far from the straight segment.
	for trial := 0; trial < 50; trial++ {
		path := bezierPath(rng, dx, dy, curveSteps, curvePerturb)
		for _, p := range path {
			assert.LessOrEqual(t, math.Abs(p.Y), curvePerturb+1e-9)
			assert.GreaterOrEqual(t, p.X, -curvePerturb-1e-9)
			assert.LessOrEqual(t, p.X, dx+curvePerturb+1e-9)
		}
	}
}

func TestBezierPathMinimumSteps(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	path := bezierPath(rng, 10, 10, 0, curvePerturb)
	require.Len(t, path, 1)
	assert.Equal(t, point{10, 10}, path[0])
}
