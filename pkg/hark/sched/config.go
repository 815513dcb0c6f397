package sched

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so that config files can say "250ms" or "1m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds scheduler and executor settings.
type Config struct {
	// Workers is the number of concurrent executors. Defaults to 4.
	Workers int `yaml:"workers"`
	// StepBudget is the maximum number of instructions per step. Defaults to
	// 1000.
	StepBudget int `yaml:"step-budget"`
	// LeaseTimeout is how long a thread lease stays valid. Defaults to 10s.
	LeaseTimeout Duration `yaml:"lease-timeout"`
	// PollInterval is how long an idle worker sleeps before asking for a
	// lease again. Defaults to 2ms.
	PollInterval Duration `yaml:"poll-interval"`
	// SleepScale multiplies program Sleep durations. Defaults to 1.
	SleepScale float64 `yaml:"sleep-scale"`
	// ForeignCeiling bounds one foreign call; zero leaves calls unbounded.
	ForeignCeiling Duration `yaml:"foreign-ceiling"`
}

// WithDefaults returns the config with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.StepBudget <= 0 {
		c.StepBudget = 1000
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = Duration(10 * time.Second)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(2 * time.Millisecond)
	}
	if c.SleepScale == 0 {
		c.SleepScale = 1
	}
	return c
}

// LoadConfig reads a YAML config file. A missing path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var c Config
	if path == "" {
		return c.WithDefaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c.WithDefaults(), nil
}
