// Package timing converts nominal delays and durations into randomized,
// distribution-shaped values under a configurable anti-pattern policy. It is
// pure computation over an injected random source; the only I/O lives in the
// context-aware Sleeper.
package timing

import (
	"math/rand"
	"time"
)

// Distribution selects how randomized delays are drawn.
type Distribution string

const (
	DistributionUniform  Distribution = "uniform"
	DistributionGaussian Distribution = "gaussian"
)

// MinSleep is the floor applied to every generated duration. A zero sleep
// would collapse the pacing guarantees the engine relies on.
const MinSleep = 10 * time.Millisecond

// Policy holds the anti-pattern randomization parameters for one run.
// It is immutable once the engine is constructed.
type Policy struct {
	Distribution Distribution

	// DelayMin/DelayMax bound RandomDelay draws.
	DelayMin time.Duration
	DelayMax time.Duration

	// PauseProbability is the per-roll chance of a human-like hesitation of
	// up to PauseMax.
	PauseProbability float64
	PauseMax         time.Duration

	// MoveProbability gates the occasional idle micro-movement.
	MoveProbability float64

	// CancelProbability gates the occasional deliberate skill cancel.
	CancelProbability float64

	// KeyPressMin/KeyPressMax bound randomized key hold durations when the
	// caller does not supply its own range.
	KeyPressMin time.Duration
	KeyPressMax time.Duration
}

// DefaultPolicy mirrors the tuning the device ships with.
func DefaultPolicy() Policy {
	return Policy{
		Distribution:      DistributionGaussian,
		DelayMin:          800 * time.Millisecond,
		DelayMax:          1200 * time.Millisecond,
		PauseProbability:  0.1,
		PauseMax:          500 * time.Millisecond,
		MoveProbability:   0.05,
		CancelProbability: 0.02,
		KeyPressMin:       50 * time.Millisecond,
		KeyPressMax:       150 * time.Millisecond,
	}
}

// Engine draws humanized durations from a single random source. The source is
// injected so tests can assert exact sequences with a fixed seed. Engine is
// not safe for concurrent use; the behavior worker is its only caller.
type Engine struct {
	policy Policy
	rng    *rand.Rand
}

// NewEngine builds an Engine around the given policy and random source.
// A nil rng falls back to a time-seeded source.
func NewEngine(policy Policy, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{policy: policy, rng: rng}
}

// Policy returns the immutable policy this engine was built with.
func (e *Engine) Policy() Policy { return e.policy }

// Jittered perturbs nominal with gaussian noise of stddev spread/2, clipped
// to [nominal-spread, nominal+spread] and floored at MinSleep.
func (e *Engine) Jittered(nominal, spread time.Duration) time.Duration {
	if spread < 0 {
		spread = 0
	}
	jitter := time.Duration(e.rng.NormFloat64() * float64(spread) / 2)
	if jitter > spread {
		jitter = spread
	} else if jitter < -spread {
		jitter = -spread
	}
	d := nominal + jitter
	if d < MinSleep {
		d = MinSleep
	}
	return d
}

// RandomDelay draws a delay in [min, max] under the policy distribution.
// Gaussian draws center on the midpoint with stddev (max-min)/6 and are
// clamped to the bounds.
func (e *Engine) RandomDelay(min, max time.Duration) time.Duration {
	d := e.draw(min, max, float64(max-min)/6)
	if d < MinSleep {
		d = MinSleep
	}
	return d
}

// HoldDuration draws a key or button hold time in [min, max]. The gaussian
// stddev is tighter than RandomDelay ((max-min)/4 around the midpoint),
// matching observed human key dwell variance.
func (e *Engine) HoldDuration(min, max time.Duration) time.Duration {
	if min <= 0 {
		min = e.policy.KeyPressMin
	}
	if max <= 0 {
		max = e.policy.KeyPressMax
	}
	return e.draw(min, max, float64(max-min)/4)
}

func (e *Engine) draw(min, max time.Duration, stddev float64) time.Duration {
	if max <= min {
		return min
	}
	switch e.policy.Distribution {
	case DistributionUniform:
		return min + time.Duration(e.rng.Int63n(int64(max-min)))
	default:
		mean := float64(min+max) / 2
		d := time.Duration(mean + e.rng.NormFloat64()*stddev)
		if d < min {
			d = min
		} else if d > max {
			d = max
		}
		return d
	}
}

// PauseDuration rolls for a human-like hesitation. The second return reports
// whether the pause fired; the caller performs the actual wait.
func (e *Engine) PauseDuration() (time.Duration, bool) {
	if e.policy.PauseProbability <= 0 || e.policy.PauseMax <= 0 {
		return 0, false
	}
	if e.rng.Float64() >= e.policy.PauseProbability {
		return 0, false
	}
	return time.Duration(e.rng.Float64() * float64(e.policy.PauseMax)), true
}

// Index draws a uniform index in [0, n).
func (e *Engine) Index(n int) int {
	if n <= 1 {
		return 0
	}
	return e.rng.Intn(n)
}

// ShouldMove rolls the idle micro-movement gate.
func (e *Engine) ShouldMove() bool {
	return e.rng.Float64() < e.policy.MoveProbability
}

// ShouldCancel rolls the deliberate skill-cancel gate.
func (e *Engine) ShouldCancel() bool {
	return e.rng.Float64() < e.policy.CancelProbability
}

// ShouldAct perturbs baseChance with gaussian noise (stddev 0.05) and rolls
// against the result, so even "always" actions occasionally skip a beat.
func (e *Engine) ShouldAct(baseChance float64) bool {
	chance := baseChance + e.rng.NormFloat64()*0.05
	if chance < 0 {
		chance = 0
	} else if chance > 1 {
		chance = 1
	}
	return e.rng.Float64() < chance
}

// RandomizeOrder returns a copy of skills with low-probability adjacent swaps
// applied. Overall priority is preserved while defeating fixed-order
// detection; lists of length <= 1 are returned as-is.
func (e *Engine) RandomizeOrder(skills []string) []string {
	if len(skills) <= 1 {
		return skills
	}
	out := make([]string, len(skills))
	copy(out, skills)
	for i := 0; i < len(out)-1; i++ {
		if e.rng.Float64() < 0.1 {
			out[i], out[i+1] = out[i+1], out[i]
		}
	}
	return out
}
