package timing

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = 12345

func newTestEngine(policy Policy) *Engine {
	return NewEngine(policy, rand.New(rand.NewSource(testSeed)))
}

func TestJitteredBounds(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		nominal time.Duration
		spread  time.Duration
	}{
		{name: "typical_windup", nominal: 850 * time.Millisecond, spread: 50 * time.Millisecond},
		{name: "zero_spread", nominal: 600 * time.Millisecond, spread: 0},
		{name: "spread_exceeds_nominal", nominal: 20 * time.Millisecond, spread: 100 * time.Millisecond},
		{name: "negative_spread_treated_as_zero", nominal: 300 * time.Millisecond, spread: -10 * time.Millisecond},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEngine(DefaultPolicy())

			spread := tc.spread
			if spread < 0 {
				spread = 0
			}
			lo := tc.nominal - spread
			if lo < MinSleep {
				lo = MinSleep
			}
			hi := tc.nominal + spread
			if hi < MinSleep {
				hi = MinSleep
			}

			for i := 0; i < 1000; i++ {
				d := e.Jittered(tc.nominal, tc.spread)
				require.GreaterOrEqual(t, d, lo, "draw %d below lower bound", i)
				require.LessOrEqual(t, d, hi, "draw %d above upper bound", i)
			}
		})
	}
}

func TestJitteredNeverBelowFloor(t *testing.T) {
	t.Parallel()
	e := newTestEngine(DefaultPolicy())
	for i := 0; i < 1000; i++ {
		d := e.Jittered(1*time.Millisecond, 500*time.Millisecond)
		require.GreaterOrEqual(t, d, MinSleep)
	}
}

func TestRandomDelayDistributions(t *testing.T) {
	t.Parallel()

	min, max := 100*time.Millisecond, 300*time.Millisecond

	t.Run("gaussian_stays_in_bounds", func(t *testing.T) {
		t.Parallel()
		p := DefaultPolicy()
		p.Distribution = DistributionGaussian
		e := newTestEngine(p)
		for i := 0; i < 1000; i++ {
			d := e.RandomDelay(min, max)
			require.GreaterOrEqual(t, d, min)
			require.LessOrEqual(t, d, max)
		}
	})

	t.Run("uniform_stays_in_bounds", func(t *testing.T) {
		t.Parallel()
		p := DefaultPolicy()
		p.Distribution = DistributionUniform
		e := newTestEngine(p)
		for i := 0; i < 1000; i++ {
			d := e.RandomDelay(min, max)
			require.GreaterOrEqual(t, d, min)
			require.Less(t, d, max)
		}
	})

	t.Run("degenerate_range_returns_min", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(DefaultPolicy())
		assert.Equal(t, 200*time.Millisecond, e.RandomDelay(200*time.Millisecond, 200*time.Millisecond))
	})
}

func TestHoldDurationUsesPolicyDefaults(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	e := newTestEngine(p)
	for i := 0; i < 500; i++ {
		d := e.HoldDuration(0, 0)
		require.GreaterOrEqual(t, d, p.KeyPressMin)
		require.LessOrEqual(t, d, p.KeyPressMax)
	}
}

func TestPauseDuration(t *testing.T) {
	t.Parallel()

	t.Run("disabled_never_fires", func(t *testing.T) {
		t.Parallel()
		p := DefaultPolicy()
		p.PauseProbability = 0
		e := newTestEngine(p)
		for i := 0; i < 100; i++ {
			_, fired := e.PauseDuration()
			assert.False(t, fired)
		}
	})

	t.Run("always_fires_within_cap", func(t *testing.T) {
		t.Parallel()
		p := DefaultPolicy()
		p.PauseProbability = 1.0
		p.PauseMax = 500 * time.Millisecond
		e := newTestEngine(p)
		for i := 0; i < 500; i++ {
			d, fired := e.PauseDuration()
			require.True(t, fired)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, p.PauseMax)
		}
	})

	t.Run("fires_at_roughly_configured_rate", func(t *testing.T) {
		t.Parallel()
		p := DefaultPolicy()
		p.PauseProbability = 0.1
		e := newTestEngine(p)
		fired := 0
		const n = 10000
		for i := 0; i < n; i++ {
			if _, ok := e.PauseDuration(); ok {
				fired++
			}
		}
		assert.InDelta(t, 0.1, float64(fired)/n, 0.02)
	})
}

func TestRandomizeOrder(t *testing.T) {
	t.Parallel()

	t.Run("preserves_membership", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(DefaultPolicy())
		in := []string{"provoke", "provoke_roar", "shield_bash", "taunt"}
		out := e.RandomizeOrder(in)
		assert.ElementsMatch(t, in, out)
		// Input must not be mutated.
		assert.Equal(t, []string{"provoke", "provoke_roar", "shield_bash", "taunt"}, in)
	})

	t.Run("short_lists_returned_unchanged", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(DefaultPolicy())
		assert.Empty(t, e.RandomizeOrder(nil))
		assert.Equal(t, []string{"only"}, e.RandomizeOrder([]string{"only"}))
	})

	t.Run("adjacent_swaps_only", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(DefaultPolicy())
		in := []string{"a", "b", "c", "d", "e", "f"}
		for trial := 0; trial < 200; trial++ {
			out := e.RandomizeOrder(in)
			// A single left-to-right pass of adjacent swaps can never move an
			// element more than one slot toward the front.
			for i, v := range in {
				pos := indexOf(out, v)
				require.GreaterOrEqual(t, pos, i-1, "element %q drifted too far forward", v)
			}
		}
	})
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestShouldActClampsChance(t *testing.T) {
	t.Parallel()
	e := newTestEngine(DefaultPolicy())
	always := 0
	for i := 0; i < 1000; i++ {
		if e.ShouldAct(1.0) {
			always++
		}
	}
	// Gaussian wobble around 1.0 is clamped, so the rate stays near certain.
	assert.Greater(t, always, 950)

	never := 0
	for i := 0; i < 1000; i++ {
		if e.ShouldAct(0.0) {
			never++
		}
	}
	assert.Less(t, never, 50)
}

func TestRealSleeperHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RealSleeper{}.Sleep(ctx, 10*time.Second)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after cancellation")
	}
}

func TestRealSleeperZeroDuration(t *testing.T) {
	t.Parallel()
	require.NoError(t, RealSleeper{}.Sleep(context.Background(), 0))
}
