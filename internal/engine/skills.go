package engine

import (
	"time"

	"github.com/nullvektor/warden/internal/config"
)

// CooldownTable tracks the earliest reuse time per skill. Entries are
// advisory; a stale entry simply compares as ready. Mutation is confined to
// the behavior worker, so no locking.
type CooldownTable struct {
	now     func() time.Time
	entries map[string]time.Time
}

// NewCooldownTable builds a table around the given clock. A nil clock uses
// wall time.
func NewCooldownTable(now func() time.Time) *CooldownTable {
	if now == nil {
		now = time.Now
	}
	return &CooldownTable{now: now, entries: make(map[string]time.Time)}
}

// Ready reports whether the skill may be used now.
func (t *CooldownTable) Ready(name string) bool {
	readyAt, ok := t.entries[name]
	if !ok {
		return true
	}
	return !t.now().Before(readyAt)
}

// Use records a cast, pushing the skill's earliest reuse out by cd.
func (t *CooldownTable) Use(name string, cd time.Duration) {
	if cd <= 0 {
		return
	}
	t.entries[name] = t.now().Add(cd)
}

// Reset clears every entry.
func (t *CooldownTable) Reset() {
	t.entries = make(map[string]time.Time)
}

// selectDefense walks the priority-ordered threshold list and returns the
// skills to cast this cycle: health at or below the threshold, off cooldown,
// not already chosen, capped at maxPerCycle. The caller casts and records
// cooldowns.
func selectDefense(def config.DefenseConfig, cds *CooldownTable, health float64) []string {
	if def.MaxPerCycle == 0 {
		return nil
	}
	chosen := make([]string, 0, def.MaxPerCycle)
	used := make(map[string]bool)
	for _, pr := range def.Priorities {
		if len(chosen) >= def.MaxPerCycle {
			break
		}
		if health > pr.Threshold || used[pr.Skill] || !cds.Ready(pr.Skill) {
			continue
		}
		used[pr.Skill] = true
		chosen = append(chosen, pr.Skill)
	}
	return chosen
}

// selectHate picks at most one threat skill for this cycle. Area provoke wins
// above the AOE threshold, single-target provoke at or below it; provoke is
// never a crowd fallback. The priority list covers the remaining cases, and
// an empty return means the caller should fall back to the default
// high-threat basic attack.
func selectHate(hate config.HateConfig, cds *CooldownTable, targetCount int, order func([]string) []string) (string, bool) {
	if targetCount > hate.AOEThreshold && hate.ProvokeRoar != "" && cds.Ready(hate.ProvokeRoar) {
		return hate.ProvokeRoar, true
	}
	if targetCount <= hate.AOEThreshold && hate.Provoke != "" && cds.Ready(hate.Provoke) {
		return hate.Provoke, true
	}
	priorities := hate.Priorities
	if order != nil {
		priorities = order(priorities)
	}
	for _, name := range priorities {
		if cds.Ready(name) {
			return name, true
		}
	}
	return "", false
}
