// File: internal/config/humanoid_config.go
// HumanoidConfig tunes the optional human-like input layer used by the
// browser driver: mouse trajectory timing (Fitts's law), cursor jitter and
// keystroke cadence.
package config

import "github.com/spf13/viper"

// HumanoidConfig holds the tunable parameters of the input simulation.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Fitts's law coefficients in milliseconds: MT = A + B*log2(1 + D/W).
	FittsA float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b" yaml:"fitts_b"`

	// Standard deviation in pixels of the gaussian jitter applied to each
	// intermediate cursor position.
	JitterStdDev float64 `mapstructure:"jitter_std_dev" yaml:"jitter_std_dev"`
	// Bezier control point spread relative to the travel distance.
	CurveSpread float64 `mapstructure:"curve_spread" yaml:"curve_spread"`

	ClickHoldMinMs int `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	KeyHoldMeanMs   float64 `mapstructure:"key_hold_mean_ms" yaml:"key_hold_mean_ms"`
	KeyHoldStdDevMs float64 `mapstructure:"key_hold_std_dev_ms" yaml:"key_hold_std_dev_ms"`
	KeyPauseMeanMs  float64 `mapstructure:"key_pause_mean_ms" yaml:"key_pause_mean_ms"`
	KeyPauseStdDev  float64 `mapstructure:"key_pause_std_dev_ms" yaml:"key_pause_std_dev_ms"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", false)
	v.SetDefault("browser.humanoid.fitts_a", 80.0)
	v.SetDefault("browser.humanoid.fitts_b", 110.0)
	v.SetDefault("browser.humanoid.jitter_std_dev", 0.6)
	v.SetDefault("browser.humanoid.curve_spread", 0.25)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 50)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 120)
	v.SetDefault("browser.humanoid.key_hold_mean_ms", 60.0)
	v.SetDefault("browser.humanoid.key_hold_std_dev_ms", 15.0)
	v.SetDefault("browser.humanoid.key_pause_mean_ms", 110.0)
	v.SetDefault("browser.humanoid.key_pause_std_dev_ms", 40.0)
}
