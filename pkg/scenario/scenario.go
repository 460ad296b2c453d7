package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario is returned when a scenario fails validation. It is the
// only configuration error a run surfaces to its caller.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario describes one load run. It is immutable once a run starts.
type Scenario struct {
	Name         string
	VirtualUsers int
	Duration     time.Duration
	RampUp       time.Duration

	// Think time bounds the random pause between activities. Zero values
	// fall back to the 1s-5s defaults.
	ThinkTimeMin time.Duration
	ThinkTimeMax time.Duration

	// Seed makes a run reproducible. Zero means seed from the clock.
	Seed int64
}

const (
	DefaultThinkTimeMin = 1 * time.Second
	DefaultThinkTimeMax = 5 * time.Second
)

// Validate checks the run parameters. RampUp may be zero (all users start
// immediately) but never negative.
func (s Scenario) Validate() error {
	if s.VirtualUsers < 1 {
		return fmt.Errorf("%w: virtual_users %d, want >= 1", ErrInvalidScenario, s.VirtualUsers)
	}
	if s.Duration < time.Second {
		return fmt.Errorf("%w: duration %s, want >= 1s", ErrInvalidScenario, s.Duration)
	}
	if s.RampUp < 0 {
		return fmt.Errorf("%w: ramp_up %s, want >= 0", ErrInvalidScenario, s.RampUp)
	}
	if s.ThinkTimeMin < 0 || s.ThinkTimeMax < 0 {
		return fmt.Errorf("%w: think time bounds must be >= 0", ErrInvalidScenario)
	}
	if s.ThinkTimeMax != 0 && s.ThinkTimeMin > s.ThinkTimeMax {
		return fmt.Errorf("%w: think_time_min %s exceeds think_time_max %s",
			ErrInvalidScenario, s.ThinkTimeMin, s.ThinkTimeMax)
	}
	return nil
}

// ThinkTimeBounds returns the effective think-time window, applying defaults
// for unset values.
func (s Scenario) ThinkTimeBounds() (time.Duration, time.Duration) {
	min, max := s.ThinkTimeMin, s.ThinkTimeMax
	if min == 0 && max == 0 {
		return DefaultThinkTimeMin, DefaultThinkTimeMax
	}
	if max < min {
		max = min
	}
	return min, max
}

// Stagger returns the per-user ramp-up interval.
func (s Scenario) Stagger() time.Duration {
	if s.RampUp <= 0 || s.VirtualUsers <= 0 {
		return 0
	}
	return s.RampUp / time.Duration(s.VirtualUsers)
}

// Window is the full wall-clock budget of the run.
func (s Scenario) Window() time.Duration {
	return s.RampUp + s.Duration
}

// presets are the named configurations operators pick from. Anything not
// covered here arrives as an explicit scenario file or flag overrides.
var presets = map[string]Scenario{
	"light":    {Name: "light", VirtualUsers: 5, Duration: 60 * time.Second, RampUp: 10 * time.Second},
	"moderate": {Name: "moderate", VirtualUsers: 20, Duration: 120 * time.Second, RampUp: 20 * time.Second},
	"heavy":    {Name: "heavy", VirtualUsers: 50, Duration: 300 * time.Second, RampUp: 30 * time.Second},
	"stress":   {Name: "stress", VirtualUsers: 100, Duration: 300 * time.Second, RampUp: 60 * time.Second},
}

// FromPreset resolves a named preset, case-insensitively.
func FromPreset(name string) (Scenario, error) {
	s, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: unknown preset %q (have: %s)",
			ErrInvalidScenario, name, strings.Join(PresetNames(), ", "))
	}
	return s, nil
}

// PresetNames lists the available presets in a stable order.
func PresetNames() []string {
	return []string{"light", "moderate", "heavy", "stress"}
}

// fileScenario is the on-disk schema. Durations are plain seconds so
// operators can write scenario files by hand.
type fileScenario struct {
	Name            string `json:"name" yaml:"name"`
	VirtualUsers    int    `json:"virtual_users" yaml:"virtual_users"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds"`
	RampUpSeconds   int    `json:"ramp_up_seconds" yaml:"ramp_up_seconds"`
	ThinkTimeMinMs  int    `json:"think_time_min_ms,omitempty" yaml:"think_time_min_ms,omitempty"`
	ThinkTimeMaxMs  int    `json:"think_time_max_ms,omitempty" yaml:"think_time_max_ms,omitempty"`
	Seed            int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Load reads a scenario from a JSON or YAML file, keyed on extension.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var f fileScenario
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Scenario{}, fmt.Errorf("failed to parse scenario yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return Scenario{}, fmt.Errorf("failed to parse scenario json: %w", err)
		}
	default:
		return Scenario{}, fmt.Errorf("%w: unsupported scenario file extension %q", ErrInvalidScenario, ext)
	}

	s := Scenario{
		Name:         f.Name,
		VirtualUsers: f.VirtualUsers,
		Duration:     time.Duration(f.DurationSeconds) * time.Second,
		RampUp:       time.Duration(f.RampUpSeconds) * time.Second,
		ThinkTimeMin: time.Duration(f.ThinkTimeMinMs) * time.Millisecond,
		ThinkTimeMax: time.Duration(f.ThinkTimeMaxMs) * time.Millisecond,
		Seed:         f.Seed,
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}
