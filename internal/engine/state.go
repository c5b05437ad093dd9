package engine

// BehaviorState identifies which handler runs in the current control cycle.
// Exactly one state is active at a time; only the engine's transition logic
// writes it.
type BehaviorState int

const (
	StateIdle BehaviorState = iota
	StateCombat
	StateLoot
	StateRest
	StateApproach
	StateRoaming
	StateEmergencyHeal
	StateUnstuck
)

var stateNames = map[BehaviorState]string{
	StateIdle:          "idle",
	StateCombat:        "combat",
	StateLoot:          "loot",
	StateRest:          "rest",
	StateApproach:      "approach",
	StateRoaming:       "roaming",
	StateEmergencyHeal: "emergency_heal",
	StateUnstuck:       "unstuck",
}

func (s BehaviorState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
