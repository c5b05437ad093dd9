package hid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nullvektor/warden/internal/config"
	"github.com/nullvektor/warden/internal/timing"
)

// Wire command verbs understood by the firmware.
const (
	cmdKeyDown   = "KEY_DOWN"
	cmdKeyUp     = "KEY_UP"
	cmdMouseMove = "MOUSE_MOVE"
	ackOK        = "OK"
)

// ErrBadAck is returned when the peripheral acknowledges a command with
// something other than OK.
var ErrBadAck = errors.New("unexpected peripheral response")

// Mouse trajectory tuning.
const (
	curveSteps       = 20
	curvePerturb     = 5.0
	driftAmplitude   = 2.0
	driftFrequency   = 0.8
	stepDelayNominal = 15 * time.Millisecond
	stepDelaySpread  = 5 * time.Millisecond
)

type tokenClass int

const (
	classSkill tokenClass = iota
	classMovement
	classMouse
)

// classOf buckets a key token by how fast a human chains it with the next
// action. Movement taps come quickest, mouse work slowest.
func classOf(token string) tokenClass {
	switch strings.ToLower(token) {
	case "w", "a", "s", "d", "space":
		return classMovement
	case "mouse1", "mouse2", "mouse3":
		return classMouse
	default:
		return classSkill
	}
}

// wireToken converts a config key name to the firmware's token spelling.
func wireToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// Wire is the transport the channel speaks over. *Link implements it; tests
// use a scripted fake.
type Wire interface {
	Open(ctx context.Context) error
	Close() error
	State() LinkState
	WriteLine(line string) error
	ReadLine() (string, error)
}

// Channel is the humanized command surface over the serial wire. It paces
// commands with a token-bucket limiter, guarantees every key press is paired
// with a release, and renders mouse moves as perturbed Bezier trajectories
// with low-frequency drift.
//
// Channel is not safe for concurrent use; the behavior worker owns it.
type Channel struct {
	wire    Wire
	limiter *rate.Limiter
	eng     *timing.Engine
	sleeper timing.Sleeper
	logger  *zap.Logger
	rng     *rand.Rand

	awaitAck bool

	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// NewChannel builds a Channel over the given wire. A nil rng falls back to a
// time-seeded source.
func NewChannel(wire Wire, cfg config.SerialConfig, eng *timing.Engine, sleeper timing.Sleeper, rng *rand.Rand, logger *zap.Logger) *Channel {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	seed := rng.Int63()
	return &Channel{
		wire:     wire,
		limiter:  rate.NewLimiter(rate.Limit(cfg.CommandRate), 1),
		eng:      eng,
		sleeper:  sleeper,
		logger:   logger.Named("channel"),
		rng:      rng,
		awaitAck: cfg.AwaitAck,
		noiseX:   perlin.NewPerlin(2, 2, 3, seed),
		noiseY:   perlin.NewPerlin(2, 2, 3, seed+1),
	}
}

// Send transmits one raw command line, reopening the wire first if a previous
// failure closed it. With acknowledgements enabled it blocks until the
// firmware's OK arrives; a missing or mismatched acknowledgement fails the
// send.
func (c *Channel) Send(ctx context.Context, cmd string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.wire.State() != LinkOpen {
		if err := c.wire.Open(ctx); err != nil {
			return fmt.Errorf("reopening link: %w", err)
		}
	}
	if err := c.wire.WriteLine(cmd); err != nil {
		return err
	}
	if c.awaitAck {
		resp, err := c.wire.ReadLine()
		if err != nil {
			return fmt.Errorf("awaiting ack for %q: %w", cmd, err)
		}
		if resp != ackOK {
			c.logger.Warn("Unexpected peripheral response, treating send as failed.",
				zap.String("command", cmd), zap.String("response", resp))
			return fmt.Errorf("%w: %q to %q", ErrBadAck, resp, cmd)
		}
	}
	return nil
}

// PressKey taps a key with a hold duration drawn from the policy defaults.
func (c *Channel) PressKey(ctx context.Context, token string) error {
	return c.PressKeyFor(ctx, token, 0, 0)
}

// PressKeyFor taps a key, holding it for a randomized duration in [min, max].
// The release is sent even when the hold sleep is interrupted so no key stays
// latched on the peripheral, and a class-dependent inter-action interval
// follows the release.
func (c *Channel) PressKeyFor(ctx context.Context, token string, min, max time.Duration) error {
	wt := wireToken(token)
	if err := c.Send(ctx, cmdKeyDown+","+wt); err != nil {
		return err
	}
	holdErr := c.sleeper.Sleep(ctx, c.eng.HoldDuration(min, max))
	upErr := c.Send(context.WithoutCancel(ctx), cmdKeyUp+","+wt)
	if holdErr != nil {
		return holdErr
	}
	if upErr != nil {
		return upErr
	}
	return c.sleeper.Sleep(ctx, c.interActionDelay(token))
}

// HoldKey presses a key without releasing it. The caller owns the matching
// ReleaseKey, typically via defer.
func (c *Channel) HoldKey(ctx context.Context, token string) error {
	return c.Send(ctx, cmdKeyDown+","+wireToken(token))
}

// ReleaseKey releases a held key. It ignores context cancellation on the wire
// so deferred releases still reach the peripheral during shutdown.
func (c *Channel) ReleaseKey(ctx context.Context, token string) error {
	return c.Send(context.WithoutCancel(ctx), cmdKeyUp+","+wireToken(token))
}

// MoveMouse slides the cursor by (dx, dy) along a perturbed Bezier curve,
// emitting relative move steps with jittered delays. Perlin drift bends the
// intermediate steps while the accumulated deltas still land exactly on
// target.
func (c *Channel) MoveMouse(ctx context.Context, dx, dy int) error {
	if dx == 0 && dy == 0 {
		return nil
	}
	path := bezierPath(c.rng, float64(dx), float64(dy), curveSteps, curvePerturb)

	var sentX, sentY int
	for i, p := range path {
		t := float64(i) / float64(len(path))
		drifted := point{
			X: p.X + c.noiseX.Noise1D(t*driftFrequency)*driftAmplitude,
			Y: p.Y + c.noiseY.Noise1D(t*driftFrequency)*driftAmplitude,
		}
		if i == len(path)-1 {
			drifted = point{float64(dx), float64(dy)}
		}

		stepX := int(math.Round(drifted.X)) - sentX
		stepY := int(math.Round(drifted.Y)) - sentY
		if stepX != 0 || stepY != 0 {
			if err := c.Send(ctx, fmt.Sprintf("%s,%d,%d", cmdMouseMove, stepX, stepY)); err != nil {
				return err
			}
			sentX += stepX
			sentY += stepY
		}

		if err := c.sleeper.Sleep(ctx, c.eng.Jittered(stepDelayNominal, stepDelaySpread)); err != nil {
			return err
		}
	}
	return nil
}

// interActionDelay draws the pause a human leaves after this kind of key.
func (c *Channel) interActionDelay(token string) time.Duration {
	var nominal, spread, lo, hi time.Duration
	switch classOf(token) {
	case classMovement:
		nominal, spread, lo, hi = 75*time.Millisecond, 25*time.Millisecond, 50*time.Millisecond, 100*time.Millisecond
	case classMouse:
		nominal, spread, lo, hi = 150*time.Millisecond, 50*time.Millisecond, 100*time.Millisecond, 200*time.Millisecond
	default:
		nominal, spread, lo, hi = 125*time.Millisecond, 25*time.Millisecond, 100*time.Millisecond, 150*time.Millisecond
	}
	d := c.eng.Jittered(nominal, spread)
	if d < lo {
		d = lo
	} else if d > hi {
		d = hi
	}
	return d
}
