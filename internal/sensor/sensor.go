// Package sensor defines the read-only view of the game world the behavior
// engine consumes. The default build ships a static implementation; richer
// backends (pixel probes, log tailers) plug in behind the same interface.
package sensor

// Sensor reports observed game state. Implementations return an error when an
// observation cannot be made; callers decide per reading whether to fail open
// or fail safe.
type Sensor interface {
	// HasTarget reports whether a hostile target is currently selected.
	HasTarget() (bool, error)
	// HealthPercent returns the player's health in [0, 100].
	HealthPercent() (float64, error)
	// ManaPercent returns the player's mana in [0, 100].
	ManaPercent() (float64, error)
	// StatusEffects lists active status effect identifiers on the player.
	StatusEffects() ([]string, error)
	// EstimatedTargetCount estimates how many hostiles are engaged.
	EstimatedTargetCount() (int, error)
}

// Static is a fixed-value Sensor for runs without any observation backend.
// It reports a permanently healthy, engaged player so the behavior loop keeps
// cycling through combat.
type Static struct {
	Target      bool
	Health      float64
	Mana        float64
	Effects     []string
	TargetCount int
}

// NewStatic returns a Static sensor tuned for an endless-combat run.
func NewStatic() *Static {
	return &Static{Target: true, Health: 100, Mana: 100, TargetCount: 1}
}

func (s *Static) HasTarget() (bool, error)           { return s.Target, nil }
func (s *Static) HealthPercent() (float64, error)    { return s.Health, nil }
func (s *Static) ManaPercent() (float64, error)      { return s.Mana, nil }
func (s *Static) StatusEffects() ([]string, error)   { return s.Effects, nil }
func (s *Static) EstimatedTargetCount() (int, error) { return s.TargetCount, nil }
