// Package config defines the typed configuration tree for warden and its
// viper-backed loading, defaulting, and validation.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/nullvektor/warden/internal/timing"
)

// Interface is the read surface handed to the rest of the application. It
// exists so tests can substitute a mock without touching viper.
type Interface interface {
	Logger() LoggerConfig
	Serial() SerialConfig
	Keys() KeysConfig
	Skills() map[string]SkillConfig
	Defense() DefenseConfig
	Hate() HateConfig
	Weave() WeaveConfig
	Selection() SelectionConfig
	Loop() LoopConfig
	Vitals() VitalsConfig
	Timing() TimingConfig

	// CLI flag overrides.
	SetSerialPort(string)
}

// Config holds the entire application configuration. Fields are private to
// force access through the Interface getters.
type Config struct {
	logger    LoggerConfig
	serial    SerialConfig
	keys      KeysConfig
	skills    map[string]SkillConfig
	defense   DefenseConfig
	hate      HateConfig
	weave     WeaveConfig
	selection SelectionConfig
	loop      LoopConfig
	vitals    VitalsConfig
	timing    TimingConfig
}

func (c *Config) Logger() LoggerConfig           { return c.logger }
func (c *Config) Serial() SerialConfig           { return c.serial }
func (c *Config) Keys() KeysConfig               { return c.keys }
func (c *Config) Skills() map[string]SkillConfig { return c.skills }
func (c *Config) Defense() DefenseConfig         { return c.defense }
func (c *Config) Hate() HateConfig               { return c.hate }
func (c *Config) Weave() WeaveConfig             { return c.weave }
func (c *Config) Selection() SelectionConfig     { return c.selection }
func (c *Config) Loop() LoopConfig               { return c.loop }
func (c *Config) Vitals() VitalsConfig           { return c.vitals }
func (c *Config) Timing() TimingConfig           { return c.timing }

func (c *Config) SetSerialPort(p string) { c.serial.Port = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for console log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// SerialConfig describes the link to the HID peripheral.
type SerialConfig struct {
	// Port is the device path. Empty means auto-detect by USB description.
	Port string `mapstructure:"port" yaml:"port"`
	// Match lists substrings looked for in port descriptions during
	// auto-detection.
	Match       []string      `mapstructure:"match" yaml:"match"`
	BaudRate    int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// CommandRate caps outgoing commands per second so movement-step bursts
	// cannot overrun the peripheral's input buffer.
	CommandRate float64 `mapstructure:"command_rate" yaml:"command_rate"`
	// AwaitAck makes every command wait for the firmware's OK line before the
	// next one is sent. Slower but lockstep with the peripheral.
	AwaitAck bool `mapstructure:"await_ack" yaml:"await_ack"`
}

// KeysConfig maps control functions to key tokens.
type KeysConfig struct {
	SelectTarget string `mapstructure:"select_target" yaml:"select_target"`
	AutoAttack   string `mapstructure:"auto_attack" yaml:"auto_attack"`
	Loot         string `mapstructure:"loot" yaml:"loot"`
	Forward      string `mapstructure:"forward" yaml:"forward"`
	Retreat      string `mapstructure:"retreat" yaml:"retreat"`
	StrafeLeft   string `mapstructure:"strafe_left" yaml:"strafe_left"`
	StrafeRight  string `mapstructure:"strafe_right" yaml:"strafe_right"`
	Jump         string `mapstructure:"jump" yaml:"jump"`
	Rest         string `mapstructure:"rest" yaml:"rest"`
	Heal         string `mapstructure:"heal" yaml:"heal"`
	Starter      string `mapstructure:"starter" yaml:"starter"`
}

// SkillConfig describes one configured skill.
type SkillConfig struct {
	Key      string        `mapstructure:"key" yaml:"key"`
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	// Condition optionally gates the skill ("low_health",
	// "multiple_targets"). Empty means always usable.
	Condition string `mapstructure:"condition" yaml:"condition"`
}

// DefensePriority pairs a defensive skill with the health percentage at or
// below which it fires.
type DefensePriority struct {
	Skill     string  `mapstructure:"skill" yaml:"skill"`
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
}

// DefenseConfig orders defensive skills by priority.
type DefenseConfig struct {
	Priorities  []DefensePriority `mapstructure:"priorities" yaml:"priorities"`
	MaxPerCycle int               `mapstructure:"max_per_cycle" yaml:"max_per_cycle"`
}

// HateConfig configures threat management.
type HateConfig struct {
	// Provoke and ProvokeRoar name skills in the skills table; empty
	// disables the corresponding path.
	Provoke     string `mapstructure:"provoke" yaml:"provoke"`
	ProvokeRoar string `mapstructure:"provoke_roar" yaml:"provoke_roar"`
	// AOEThreshold is the estimated target count above which area hate is
	// preferred over single-target hate.
	AOEThreshold int      `mapstructure:"aoe_threshold" yaml:"aoe_threshold"`
	Priorities   []string `mapstructure:"priorities" yaml:"priorities"`
}

// WeaveConfig tunes the attack-cancel cycle.
type WeaveConfig struct {
	PrimarySkill     string                   `mapstructure:"primary_skill" yaml:"primary_skill"`
	AttackKeypress   KeypressRange            `mapstructure:"attack_keypress" yaml:"attack_keypress"`
	SkillKeypress    KeypressRange            `mapstructure:"skill_keypress" yaml:"skill_keypress"`
	AfterSkillDelay  time.Duration            `mapstructure:"after_skill_delay" yaml:"after_skill_delay"`
	JitterRange      time.Duration            `mapstructure:"jitter_range" yaml:"jitter_range"`
	Windup           map[string]time.Duration `mapstructure:"windup" yaml:"windup"`
	CurrentGear      string                   `mapstructure:"current_gear" yaml:"current_gear"`
	MovingWeave      bool                     `mapstructure:"moving_weave" yaml:"moving_weave"`
	MoveStartupDelay time.Duration            `mapstructure:"move_startup_delay" yaml:"move_startup_delay"`
}

// KeypressRange bounds a randomized key hold duration.
type KeypressRange struct {
	Min time.Duration `mapstructure:"min" yaml:"min"`
	Max time.Duration `mapstructure:"max" yaml:"max"`
}

// CurrentWindup resolves the attack windup for the configured gear tier.
func (w WeaveConfig) CurrentWindup() time.Duration {
	if d, ok := w.Windup[w.CurrentGear]; ok {
		return d
	}
	return 850 * time.Millisecond
}

// SelectionConfig bounds the target-selection retry loop.
type SelectionConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
}

// LoopConfig tunes the behavior loop itself.
type LoopConfig struct {
	Delay         time.Duration `mapstructure:"delay" yaml:"delay"`
	MaxStuckCount int           `mapstructure:"max_stuck_count" yaml:"max_stuck_count"`
	StarterDelay  time.Duration `mapstructure:"starter_delay" yaml:"starter_delay"`
	LootSettle    time.Duration `mapstructure:"loot_settle" yaml:"loot_settle"`
	// ApproachDelay, when positive, holds the forward key for roughly this
	// long before engaging a freshly acquired target. Zero engages directly.
	ApproachDelay time.Duration `mapstructure:"approach_delay" yaml:"approach_delay"`
}

// VitalsConfig holds the health/mana thresholds feeding the Rest and
// EmergencyHeal states.
type VitalsConfig struct {
	RestHealth      float64 `mapstructure:"rest_health" yaml:"rest_health"`
	RestMana        float64 `mapstructure:"rest_mana" yaml:"rest_mana"`
	EmergencyHealth float64 `mapstructure:"emergency_health" yaml:"emergency_health"`
}

// TimingConfig is the serialized form of the anti-pattern policy.
type TimingConfig struct {
	Distribution      string        `mapstructure:"distribution" yaml:"distribution"`
	DelayMin          time.Duration `mapstructure:"delay_min" yaml:"delay_min"`
	DelayMax          time.Duration `mapstructure:"delay_max" yaml:"delay_max"`
	PauseProbability  float64       `mapstructure:"pause_probability" yaml:"pause_probability"`
	PauseMax          time.Duration `mapstructure:"pause_max" yaml:"pause_max"`
	MoveProbability   float64       `mapstructure:"move_probability" yaml:"move_probability"`
	CancelProbability float64       `mapstructure:"cancel_probability" yaml:"cancel_probability"`
	KeyPressMin       time.Duration `mapstructure:"key_press_min" yaml:"key_press_min"`
	KeyPressMax       time.Duration `mapstructure:"key_press_max" yaml:"key_press_max"`
}

// Policy converts the serialized timing section into the engine's policy.
func (t TimingConfig) Policy() timing.Policy {
	dist := timing.DistributionGaussian
	if t.Distribution == string(timing.DistributionUniform) {
		dist = timing.DistributionUniform
	}
	return timing.Policy{
		Distribution:      dist,
		DelayMin:          t.DelayMin,
		DelayMax:          t.DelayMax,
		PauseProbability:  t.PauseProbability,
		PauseMax:          t.PauseMax,
		MoveProbability:   t.MoveProbability,
		CancelProbability: t.CancelProbability,
		KeyPressMin:       t.KeyPressMin,
		KeyPressMax:       t.KeyPressMax,
	}
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "warden")
	v.SetDefault("logger.log_file", "warden.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Serial --
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.match", []string{"Arduino", "USB Serial"})
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.settle_delay", "2s")
	v.SetDefault("serial.read_timeout", "1s")
	v.SetDefault("serial.command_rate", 200.0)
	v.SetDefault("serial.await_ack", false)

	// -- Keys --
	v.SetDefault("keys.select_target", "tab")
	v.SetDefault("keys.auto_attack", "mouse1")
	v.SetDefault("keys.loot", "f")
	v.SetDefault("keys.forward", "w")
	v.SetDefault("keys.retreat", "s")
	v.SetDefault("keys.strafe_left", "a")
	v.SetDefault("keys.strafe_right", "d")
	v.SetDefault("keys.jump", "space")
	v.SetDefault("keys.rest", "r")
	v.SetDefault("keys.heal", "h")
	v.SetDefault("keys.starter", "")

	// -- Weave --
	v.SetDefault("weave.primary_skill", "violent_strike")
	v.SetDefault("weave.attack_keypress.min", "50ms")
	v.SetDefault("weave.attack_keypress.max", "100ms")
	v.SetDefault("weave.skill_keypress.min", "50ms")
	v.SetDefault("weave.skill_keypress.max", "100ms")
	v.SetDefault("weave.after_skill_delay", "600ms")
	v.SetDefault("weave.jitter_range", "50ms")
	v.SetDefault("weave.windup", map[string]string{
		"slow":   "1s",
		"normal": "850ms",
		"fast":   "700ms",
	})
	v.SetDefault("weave.current_gear", "normal")
	v.SetDefault("weave.moving_weave", false)
	v.SetDefault("weave.move_startup_delay", "50ms")

	// -- Selection / loop / vitals --
	v.SetDefault("selection.max_attempts", 3)
	v.SetDefault("selection.delay", "300ms")
	v.SetDefault("loop.delay", "200ms")
	v.SetDefault("loop.max_stuck_count", 10)
	v.SetDefault("loop.starter_delay", "800ms")
	v.SetDefault("loop.loot_settle", "500ms")
	v.SetDefault("loop.approach_delay", "0s")
	v.SetDefault("vitals.rest_health", 90)
	v.SetDefault("vitals.rest_mana", 80)
	v.SetDefault("vitals.emergency_health", 30)

	// -- Defense / hate --
	v.SetDefault("defense.max_per_cycle", 2)
	v.SetDefault("hate.aoe_threshold", 2)

	// -- Timing --
	v.SetDefault("timing.distribution", "gaussian")
	v.SetDefault("timing.delay_min", "800ms")
	v.SetDefault("timing.delay_max", "1200ms")
	v.SetDefault("timing.pause_probability", 0.1)
	v.SetDefault("timing.pause_max", "500ms")
	v.SetDefault("timing.move_probability", 0.05)
	v.SetDefault("timing.cancel_probability", 0.02)
	v.SetDefault("timing.key_press_min", "50ms")
	v.SetDefault("timing.key_press_max", "150ms")
}

// rawConfig mirrors Config with exported fields for viper unmarshaling.
type rawConfig struct {
	Logger    LoggerConfig           `mapstructure:"logger"`
	Serial    SerialConfig           `mapstructure:"serial"`
	Keys      KeysConfig             `mapstructure:"keys"`
	Skills    map[string]SkillConfig `mapstructure:"skills"`
	Defense   DefenseConfig          `mapstructure:"defense"`
	Hate      HateConfig             `mapstructure:"hate"`
	Weave     WeaveConfig            `mapstructure:"weave"`
	Selection SelectionConfig        `mapstructure:"selection"`
	Loop      LoopConfig             `mapstructure:"loop"`
	Vitals    VitalsConfig           `mapstructure:"vitals"`
	Timing    TimingConfig           `mapstructure:"timing"`
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// NewConfigFromViper unmarshals and validates a configuration from viper.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := &Config{
		logger:    raw.Logger,
		serial:    raw.Serial,
		keys:      raw.Keys,
		skills:    raw.Skills,
		defense:   raw.Defense,
		hate:      raw.Hate,
		weave:     raw.Weave,
		selection: raw.Selection,
		loop:      raw.Loop,
		vitals:    raw.Vitals,
		timing:    raw.Timing,
	}
	if cfg.skills == nil {
		cfg.skills = map[string]SkillConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be a positive integer")
	}
	if c.serial.CommandRate <= 0 {
		return fmt.Errorf("serial.command_rate must be positive")
	}
	if c.selection.MaxAttempts <= 0 {
		return fmt.Errorf("selection.max_attempts must be a positive integer")
	}
	if c.loop.MaxStuckCount <= 0 {
		return fmt.Errorf("loop.max_stuck_count must be a positive integer")
	}
	if c.defense.MaxPerCycle < 0 {
		return fmt.Errorf("defense.max_per_cycle must not be negative")
	}
	if c.keys.SelectTarget == "" || c.keys.AutoAttack == "" {
		return fmt.Errorf("keys.select_target and keys.auto_attack are required")
	}
	if c.timing.DelayMax < c.timing.DelayMin {
		return fmt.Errorf("timing.delay_max must not be below timing.delay_min")
	}
	if c.timing.PauseProbability < 0 || c.timing.PauseProbability > 1 {
		return fmt.Errorf("timing.pause_probability must be between 0.0 and 1.0")
	}
	for i, pr := range c.defense.Priorities {
		if pr.Skill == "" {
			return fmt.Errorf("defense.priorities[%d]: skill name is required", i)
		}
		if pr.Threshold < 0 || pr.Threshold > 100 {
			return fmt.Errorf("defense skill %q: threshold must be within [0, 100]", pr.Skill)
		}
	}
	for name, sk := range c.skills {
		if sk.Key == "" {
			return fmt.Errorf("skill %q: key is required", name)
		}
		if sk.Cooldown < 0 {
			return fmt.Errorf("skill %q: cooldown must not be negative", name)
		}
	}
	return nil
}
