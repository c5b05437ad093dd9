// Package engine implements the behavior state machine: it consumes sensor
// readings and cooldown state, decides the next action, and emits humanized
// command sequences through the HID channel.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nullvektor/warden/internal/config"
	"github.com/nullvektor/warden/internal/sensor"
	"github.com/nullvektor/warden/internal/timing"
)

// Commander is the slice of the HID channel the engine drives.
type Commander interface {
	PressKey(ctx context.Context, token string) error
	PressKeyFor(ctx context.Context, token string, min, max time.Duration) error
	HoldKey(ctx context.Context, token string) error
	ReleaseKey(ctx context.Context, token string) error
	MoveMouse(ctx context.Context, dx, dy int) error
}

// Engine runs one control cycle at a time. All mutable state (current
// behavior state, cooldowns, stuck counter, opener flag) is confined to the
// single worker goroutine driving Cycle.
type Engine struct {
	cfg     config.Interface
	ch      Commander
	sensor  sensor.Sensor
	eng     *timing.Engine
	sleeper timing.Sleeper
	logger  *zap.Logger

	state      BehaviorState
	cooldowns  *CooldownTable
	stuckCount int
	openerDone bool
}

// New builds an Engine in the Idle state.
func New(cfg config.Interface, ch Commander, sens sensor.Sensor, eng *timing.Engine, sleeper timing.Sleeper, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		ch:        ch,
		sensor:    sens,
		eng:       eng,
		sleeper:   sleeper,
		logger:    logger.Named("engine"),
		state:     StateIdle,
		cooldowns: NewCooldownTable(nil),
	}
}

// State returns the behavior state the next cycle will run in.
func (e *Engine) State() BehaviorState { return e.state }

// ResetTransient clears per-run state so a restart begins from a clean Idle.
func (e *Engine) ResetTransient() {
	e.state = StateIdle
	e.cooldowns.Reset()
	e.stuckCount = 0
	e.openerDone = false
}

// Cycle executes one step of the state machine. Errors from a cycle abort
// only that cycle; the caller logs and keeps driving unless the context is
// done.
func (e *Engine) Cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Occasional human hesitation between cycles.
	if d, ok := e.eng.PauseDuration(); ok {
		if err := e.sleeper.Sleep(ctx, d); err != nil {
			return err
		}
	}

	switch e.state {
	case StateIdle:
		return e.handleIdle(ctx)
	case StateCombat:
		return e.handleCombat(ctx)
	case StateLoot:
		return e.handleLoot(ctx)
	case StateRest:
		return e.handleRest(ctx)
	case StateApproach:
		return e.handleApproach(ctx)
	case StateRoaming:
		return e.handleRoaming(ctx)
	case StateEmergencyHeal:
		return e.handleEmergencyHeal(ctx)
	case StateUnstuck:
		return e.handleUnstuck(ctx)
	default:
		e.logger.Warn("Unknown behavior state, resetting to idle.", zap.Stringer("state", e.state))
		e.state = StateIdle
		return nil
	}
}

func (e *Engine) transition(to BehaviorState) {
	if e.state == to {
		return
	}
	e.logger.Debug("State transition.", zap.Stringer("from", e.state), zap.Stringer("to", to))
	e.state = to
}

// handleIdle looks for a target. Repeated selection failure feeds the stuck
// counter; hitting the threshold runs the recovery maneuver in the same
// cycle and resets the count.
func (e *Engine) handleIdle(ctx context.Context) error {
	if health, mana := e.healthPercent(), e.manaPercent(); health < e.cfg.Vitals().RestHealth || mana < e.cfg.Vitals().RestMana {
		e.transition(StateRest)
		return nil
	}

	if e.hasTarget() {
		e.enterEngagement()
		return nil
	}

	found, err := e.selectTarget(ctx)
	if err != nil {
		return err
	}
	if found {
		e.stuckCount = 0
		e.enterEngagement()
		return nil
	}

	e.stuckCount++
	if e.stuckCount >= e.cfg.Loop().MaxStuckCount {
		e.logger.Info("Stuck threshold reached, running recovery maneuver.",
			zap.Int("count", e.stuckCount))
		e.transition(StateUnstuck)
		return e.handleUnstuck(ctx)
	}

	if e.eng.ShouldMove() {
		e.transition(StateRoaming)
	}
	return nil
}

// enterEngagement moves into combat, via a brief approach leg when one is
// configured.
func (e *Engine) enterEngagement() {
	e.openerDone = false
	if e.cfg.Loop().ApproachDelay > 0 {
		e.transition(StateApproach)
		return
	}
	e.transition(StateCombat)
}

// selectTarget presses the select key and polls the sensor, up to the
// configured attempt cap. Exhausting the attempts is a normal outcome, not
// an error.
func (e *Engine) selectTarget(ctx context.Context) (bool, error) {
	sel := e.cfg.Selection()
	for attempt := 1; attempt <= sel.MaxAttempts; attempt++ {
		if err := e.ch.PressKey(ctx, e.cfg.Keys().SelectTarget); err != nil {
			return false, err
		}
		if err := e.sleeper.Sleep(ctx, e.eng.Jittered(sel.Delay, sel.Delay/3)); err != nil {
			return false, err
		}
		if e.hasTarget() {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) handleCombat(ctx context.Context) error {
	if !e.hasTarget() {
		e.transition(StateLoot)
		return nil
	}

	health := e.healthPercent()
	if health <= e.cfg.Vitals().EmergencyHealth {
		e.transition(StateEmergencyHeal)
		return nil
	}

	if !e.openerDone {
		if starter := e.cfg.Keys().Starter; starter != "" {
			if err := e.ch.PressKey(ctx, starter); err != nil {
				return err
			}
			if err := e.sleeper.Sleep(ctx, e.eng.Jittered(e.cfg.Loop().StarterDelay, e.cfg.Weave().JitterRange)); err != nil {
				return err
			}
		}
		e.openerDone = true
	}

	if effects, err := e.sensor.StatusEffects(); err == nil && len(effects) > 0 {
		e.logger.Debug("Active status effects.", zap.Strings("effects", effects))
	}

	if err := e.castDefense(ctx, health); err != nil {
		return err
	}
	if err := e.castHate(ctx); err != nil {
		return err
	}
	return e.runWeave(ctx)
}

// castDefense fires the defensive skills selected for this health reading.
func (e *Engine) castDefense(ctx context.Context, health float64) error {
	for _, name := range selectDefense(e.cfg.Defense(), e.cooldowns, health) {
		e.logger.Info("Casting defensive skill.", zap.String("skill", name), zap.Float64("health", health))
		if err := e.castSkill(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// castHate fires at most one threat skill, falling back to the default
// high-threat basic attack when nothing else is ready.
func (e *Engine) castHate(ctx context.Context) error {
	name, ok := selectHate(e.cfg.Hate(), e.cooldowns, e.targetCount(), e.eng.RandomizeOrder)
	if !ok {
		return e.ch.PressKey(ctx, e.cfg.Keys().AutoAttack)
	}
	e.logger.Debug("Casting hate skill.", zap.String("skill", name))
	return e.castSkill(ctx, name)
}

// castSkill presses the key bound to a named skill and records its cooldown.
// Unknown names are treated as literal key tokens with no cooldown.
func (e *Engine) castSkill(ctx context.Context, name string) error {
	key := name
	var cd time.Duration
	if sk, ok := e.cfg.Skills()[name]; ok {
		key = sk.Key
		cd = sk.Cooldown
	}
	if err := e.ch.PressKey(ctx, key); err != nil {
		return err
	}
	e.cooldowns.Use(name, cd)
	return nil
}

func (e *Engine) handleLoot(ctx context.Context) error {
	if err := e.ch.PressKey(ctx, e.cfg.Keys().Loot); err != nil {
		return err
	}
	loop := e.cfg.Loop()
	if err := e.sleeper.Sleep(ctx, e.eng.Jittered(loop.LootSettle, loop.LootSettle/4)); err != nil {
		return err
	}
	e.transition(StateIdle)
	return nil
}

func (e *Engine) handleRest(ctx context.Context) error {
	if err := e.ch.PressKey(ctx, e.cfg.Keys().Rest); err != nil {
		return err
	}
	if err := e.sleeper.Sleep(ctx, e.eng.RandomDelay(time.Second, 3*time.Second)); err != nil {
		return err
	}
	if e.healthPercent() >= e.cfg.Vitals().RestHealth && e.manaPercent() >= e.cfg.Vitals().RestMana {
		e.transition(StateIdle)
	}
	return nil
}

func (e *Engine) handleEmergencyHeal(ctx context.Context) error {
	e.logger.Warn("Emergency heal triggered.", zap.Float64("health", e.healthPercent()))
	if err := e.ch.PressKey(ctx, e.cfg.Keys().Heal); err != nil {
		return err
	}
	if err := e.sleeper.Sleep(ctx, e.eng.RandomDelay(500*time.Millisecond, time.Second)); err != nil {
		return err
	}
	if e.healthPercent() > e.cfg.Vitals().EmergencyHealth {
		if e.hasTarget() {
			e.transition(StateCombat)
		} else {
			e.transition(StateIdle)
		}
	}
	return nil
}

// handleApproach closes distance on a fresh target by holding forward for
// the configured leg, then engages.
func (e *Engine) handleApproach(ctx context.Context) error {
	delay := e.cfg.Loop().ApproachDelay
	if err := e.ch.PressKeyFor(ctx, e.cfg.Keys().Forward, delay/2, delay+delay/2); err != nil {
		return err
	}
	if e.hasTarget() {
		e.transition(StateCombat)
	} else {
		e.transition(StateIdle)
	}
	return nil
}

// handleRoaming takes one randomized movement step, then goes back to
// looking for a target.
func (e *Engine) handleRoaming(ctx context.Context) error {
	keys := e.cfg.Keys()
	directions := []string{keys.Forward, keys.StrafeLeft, keys.StrafeRight}
	dir := directions[e.eng.Index(len(directions))]
	if err := e.ch.PressKeyFor(ctx, dir, 200*time.Millisecond, 600*time.Millisecond); err != nil {
		return err
	}
	e.transition(StateIdle)
	return nil
}

// handleUnstuck backs off twice and jumps, then resets the stuck counter.
func (e *Engine) handleUnstuck(ctx context.Context) error {
	keys := e.cfg.Keys()
	for i := 0; i < 2; i++ {
		if err := e.ch.PressKeyFor(ctx, keys.Retreat, 100*time.Millisecond, 200*time.Millisecond); err != nil {
			return err
		}
	}
	if err := e.ch.PressKeyFor(ctx, keys.Jump, 50*time.Millisecond, 100*time.Millisecond); err != nil {
		return err
	}
	e.stuckCount = 0
	e.transition(StateIdle)
	return nil
}

// hasTarget fails open: a sensor error during an engagement must not drop
// the target.
func (e *Engine) hasTarget() bool {
	ok, err := e.sensor.HasTarget()
	if err != nil {
		e.logger.Warn("Target sensor read failed, assuming target present.", zap.Error(err))
		return true
	}
	return ok
}

// healthPercent fails safe: an unreadable health bar triggers defensive
// behavior rather than masking danger.
func (e *Engine) healthPercent() float64 {
	h, err := e.sensor.HealthPercent()
	if err != nil {
		e.logger.Warn("Health sensor read failed, assuming zero.", zap.Error(err))
		return 0
	}
	return h
}

func (e *Engine) manaPercent() float64 {
	m, err := e.sensor.ManaPercent()
	if err != nil {
		e.logger.Warn("Mana sensor read failed, assuming full.", zap.Error(err))
		return 100
	}
	return m
}

// targetCount defaults to a single engaged target when the sensor cannot
// estimate; multi-target logic stays configuration-gated.
func (e *Engine) targetCount() int {
	n, err := e.sensor.EstimatedTargetCount()
	if err != nil || n < 1 {
		return 1
	}
	return n
}
