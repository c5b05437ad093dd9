package engine

import (
	"context"

	"go.uber.org/zap"
)

// runWeave executes one attack-cancel cycle with the configured primary
// skill, wrapped in a forward-movement hold when moving weave is enabled.
func (e *Engine) runWeave(ctx context.Context) error {
	skill := e.cfg.Weave().PrimarySkill
	if e.cfg.Weave().MovingWeave {
		return e.movingWeave(ctx, skill)
	}
	return e.weave(ctx, skill)
}

// weave issues the basic attack, waits out the jittered windup for the
// current gear tier, then casts the skill to cancel the attack's recovery
// animation, and finally waits the shared action cooldown. A low-probability
// deliberate cancel skips the skill cast entirely, breaking the otherwise
// perfectly regular attack-skill rhythm.
func (e *Engine) weave(ctx context.Context, skillName string) error {
	w := e.cfg.Weave()

	if err := e.ch.PressKeyFor(ctx, e.cfg.Keys().AutoAttack, w.AttackKeypress.Min, w.AttackKeypress.Max); err != nil {
		return err
	}
	if err := e.sleeper.Sleep(ctx, e.eng.Jittered(w.CurrentWindup(), w.JitterRange)); err != nil {
		return err
	}

	if e.eng.ShouldCancel() {
		e.logger.Debug("Deliberately skipping skill cast this weave.")
		return nil
	}

	key := skillName
	if sk, ok := e.cfg.Skills()[skillName]; ok {
		key = sk.Key
	}
	if err := e.ch.PressKeyFor(ctx, key, w.SkillKeypress.Min, w.SkillKeypress.Max); err != nil {
		return err
	}
	if sk, ok := e.cfg.Skills()[skillName]; ok {
		e.cooldowns.Use(skillName, sk.Cooldown)
	}

	return e.sleeper.Sleep(ctx, e.eng.Jittered(w.AfterSkillDelay, w.JitterRange))
}

// movingWeave runs the weave while the forward key is held. The release is
// deferred so it reaches the peripheral on every exit path, including a
// failed weave or a stop request mid-sequence.
func (e *Engine) movingWeave(ctx context.Context, skillName string) (err error) {
	forward := e.cfg.Keys().Forward
	if err := e.ch.HoldKey(ctx, forward); err != nil {
		return err
	}
	defer func() {
		if rerr := e.ch.ReleaseKey(ctx, forward); rerr != nil {
			e.logger.Error("Failed to release forward key after weave.", zap.Error(rerr))
			if err == nil {
				err = rerr
			}
		}
	}()

	w := e.cfg.Weave()
	if err := e.sleeper.Sleep(ctx, e.eng.Jittered(w.MoveStartupDelay, w.MoveStartupDelay/2)); err != nil {
		return err
	}
	return e.weave(ctx, skillName)
}
