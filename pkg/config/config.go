package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/offlinefirst/visionfix/pkg/calibration"
	"github.com/offlinefirst/visionfix/pkg/prescription"
	"github.com/offlinefirst/visionfix/pkg/quality"
	"github.com/offlinefirst/visionfix/pkg/viewport"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "visionfix.yaml"

// EnvPrefix prefixes environment overrides, e.g. VISIONFIX_CORRECTION_QUALITY.
const EnvPrefix = "VISIONFIX"

// Config captures the user-adjustable knobs of the corrector.
type Config struct {
	Correction  CorrectionConfig  `mapstructure:"correction" yaml:"correction"`
	Profiles    ProfilesConfig    `mapstructure:"profiles" yaml:"profiles"`
	Camera      CameraConfig      `mapstructure:"camera" yaml:"camera"`
	Capture     CaptureConfig     `mapstructure:"capture" yaml:"capture"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Paths       PathsConfig       `mapstructure:"paths" yaml:"paths"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `mapstructure:"-" yaml:"-"`
}

// CorrectionConfig controls the correction loop.
type CorrectionConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Quality string `mapstructure:"quality" yaml:"quality"`
	// ViewingDistanceCm overrides the camera estimate when positive.
	ViewingDistanceCm float64 `mapstructure:"viewing_distance_cm" yaml:"viewing_distance_cm"`
	DegradeGracefully bool    `mapstructure:"degrade_gracefully" yaml:"degrade_gracefully"`
	DisplayHz         int     `mapstructure:"display_hz" yaml:"display_hz"`
}

// ProfilesConfig holds the prescription profiles.
type ProfilesConfig struct {
	Active  string                 `mapstructure:"active" yaml:"active"`
	Entries []prescription.Profile `mapstructure:"entries" yaml:"entries"`
}

// CameraConfig selects the webcam.
type CameraConfig struct {
	Device      int    `mapstructure:"device" yaml:"device"`
	Width       int    `mapstructure:"width" yaml:"width"`
	Height      int    `mapstructure:"height" yaml:"height"`
	FaceCascade string `mapstructure:"face_cascade" yaml:"face_cascade"`
	EyeCascade  string `mapstructure:"eye_cascade" yaml:"eye_cascade"`
}

// CaptureConfig selects how the page under correction is rasterised.
type CaptureConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"`
	URL              string        `mapstructure:"url" yaml:"url"`
	ViewportWidth    int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight   int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	ExcludeSelectors []string      `mapstructure:"exclude_selectors" yaml:"exclude_selectors"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Viewport returns the configured viewport size.
func (c CaptureConfig) Viewport() viewport.Size {
	return viewport.Size{Width: c.ViewportWidth, Height: c.ViewportHeight}
}

// CalibrationConfig tunes calibration sessions.
type CalibrationConfig struct {
	AdvanceInterval time.Duration `mapstructure:"advance_interval" yaml:"advance_interval"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	HistoryPath     string        `mapstructure:"history_path" yaml:"history_path"`
}

// DiagnosticsConfig controls the local HTTP diagnostics server.
type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// PathsConfig controls filesystem locations used by the CLI.
type PathsConfig struct {
	RunsDir string `mapstructure:"runs_dir" yaml:"runs_dir"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Correction: CorrectionConfig{
			Enabled:           true,
			Quality:           string(quality.DefaultTier),
			DegradeGracefully: true,
			DisplayHz:         60,
		},
		Profiles: ProfilesConfig{
			Active:  prescription.DefaultProfileName,
			Entries: []prescription.Profile{prescription.DefaultProfile()},
		},
		Camera: CameraConfig{
			Width:  640,
			Height: 480,
		},
		Capture: CaptureConfig{
			Backend:          viewport.BackendSynthetic,
			ViewportWidth:    1280,
			ViewportHeight:   720,
			ExcludeSelectors: append([]string(nil), viewport.DefaultExcludeSelectors...),
			Timeout:          20 * time.Second,
		},
		Calibration: CalibrationConfig{
			AdvanceInterval: calibration.DefaultAdvanceInterval,
			SettleDelay:     calibration.DefaultSettleDelay,
			HistoryPath:     "visionfix.db",
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7465",
		},
		Paths: PathsConfig{
			RunsDir: "runs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning defaults.
// When path is empty, the loader attempts to read ./visionfix.yaml but tolerates
// a missing file. Environment variables prefixed with VISIONFIX_ override both.
func Load(path string) (Config, error) {
	v, source, err := open(path)
	if err != nil {
		return Default(), err
	}
	return decode(v, source)
}

// open prepares a viper instance with defaults, env overrides and the file.
func open(path string) (*viper.Viper, string, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}
	v.SetConfigFile(candidate)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || isNotExist(err) {
			if explicit {
				return v, "", fmt.Errorf("config file %q not found", candidate)
			}
			return v, "", nil
		}
		return v, "", fmt.Errorf("read config file %q: %w", candidate, err)
	}
	return v, candidate, nil
}

func decode(v *viper.Viper, source string) (Config, error) {
	// Profile entries from the file must replace the defaults, not merge into them.
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Default(), fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = source
	if source == "" {
		cfg.Source = "<defaults>"
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("correction.enabled", d.Correction.Enabled)
	v.SetDefault("correction.quality", d.Correction.Quality)
	v.SetDefault("correction.viewing_distance_cm", d.Correction.ViewingDistanceCm)
	v.SetDefault("correction.degrade_gracefully", d.Correction.DegradeGracefully)
	v.SetDefault("correction.display_hz", d.Correction.DisplayHz)
	v.SetDefault("profiles.active", d.Profiles.Active)
	v.SetDefault("camera.device", d.Camera.Device)
	v.SetDefault("camera.width", d.Camera.Width)
	v.SetDefault("camera.height", d.Camera.Height)
	v.SetDefault("camera.face_cascade", d.Camera.FaceCascade)
	v.SetDefault("camera.eye_cascade", d.Camera.EyeCascade)
	v.SetDefault("capture.backend", d.Capture.Backend)
	v.SetDefault("capture.url", d.Capture.URL)
	v.SetDefault("capture.viewport_width", d.Capture.ViewportWidth)
	v.SetDefault("capture.viewport_height", d.Capture.ViewportHeight)
	v.SetDefault("capture.exclude_selectors", d.Capture.ExcludeSelectors)
	v.SetDefault("capture.timeout", d.Capture.Timeout)
	v.SetDefault("calibration.advance_interval", d.Calibration.AdvanceInterval)
	v.SetDefault("calibration.settle_delay", d.Calibration.SettleDelay)
	v.SetDefault("calibration.history_path", d.Calibration.HistoryPath)
	v.SetDefault("diagnostics.enabled", d.Diagnostics.Enabled)
	v.SetDefault("diagnostics.addr", d.Diagnostics.Addr)
	v.SetDefault("paths.runs_dir", d.Paths.RunsDir)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.RunsDir) == "" {
		return errors.New("paths.runs_dir must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	if _, err := quality.ParseTier(c.Correction.Quality); err != nil {
		return fmt.Errorf("correction.quality: %w", err)
	}
	if c.Correction.ViewingDistanceCm < 0 || c.Correction.ViewingDistanceCm > 500 {
		return errors.New("correction.viewing_distance_cm must be between 0 and 500")
	}
	if c.Correction.DisplayHz <= 0 || c.Correction.DisplayHz > 480 {
		return errors.New("correction.display_hz must be between 1 and 480")
	}

	if _, err := c.Collection(); err != nil {
		return fmt.Errorf("profiles: %w", err)
	}

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return errors.New("camera.width and camera.height must be positive")
	}
	if c.Camera.Device < 0 {
		return errors.New("camera.device must not be negative")
	}

	switch c.Capture.Backend {
	case viewport.BackendSynthetic:
	case viewport.BackendTab:
		if strings.TrimSpace(c.Capture.URL) == "" {
			return errors.New("capture.url must be set for the tab backend")
		}
	default:
		return fmt.Errorf("capture.backend %q must be %q or %q", c.Capture.Backend, viewport.BackendTab, viewport.BackendSynthetic)
	}
	if err := c.Capture.Viewport().Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if c.Capture.Timeout <= 0 {
		return errors.New("capture.timeout must be positive")
	}

	if c.Calibration.AdvanceInterval <= 0 {
		return errors.New("calibration.advance_interval must be positive")
	}
	if c.Calibration.SettleDelay < 0 || c.Calibration.SettleDelay >= c.Calibration.AdvanceInterval {
		return errors.New("calibration.settle_delay must be between 0 and advance_interval")
	}

	if c.Diagnostics.Enabled && strings.TrimSpace(c.Diagnostics.Addr) == "" {
		return errors.New("diagnostics.addr must not be empty when diagnostics are enabled")
	}

	return nil
}

// Collection builds the profile collection from the configured entries.
func (c Config) Collection() (*prescription.Collection, error) {
	if len(c.Profiles.Entries) == 0 {
		return prescription.DefaultCollection(), nil
	}
	return prescription.NewCollection(c.Profiles.Entries, c.Profiles.Active)
}

// Tier returns the parsed quality tier.
func (c Config) Tier() quality.Tier {
	tier, err := quality.ParseTier(c.Correction.Quality)
	if err != nil {
		return quality.DefaultTier
	}
	return tier
}

func (c *Config) normalize() {
	defaults := Default()

	c.Paths.RunsDir = filepath.Clean(strings.TrimSpace(c.Paths.RunsDir))
	if c.Paths.RunsDir == "." || c.Paths.RunsDir == "" {
		c.Paths.RunsDir = defaults.Paths.RunsDir
	}
	if level, err := NormalizeLogLevel(c.Logging.Level); err == nil {
		c.Logging.Level = level
	}
	if format, err := NormalizeFormat(c.Logging.Format); err == nil {
		c.Logging.Format = format
	}

	c.Correction.Quality = strings.ToLower(strings.TrimSpace(c.Correction.Quality))
	if c.Correction.Quality == "" {
		c.Correction.Quality = defaults.Correction.Quality
	}
	if c.Correction.DisplayHz == 0 {
		c.Correction.DisplayHz = defaults.Correction.DisplayHz
	}

	c.Capture.Backend = strings.ToLower(strings.TrimSpace(c.Capture.Backend))
	if c.Capture.Backend == "" {
		c.Capture.Backend = defaults.Capture.Backend
	}
	if c.Capture.ExcludeSelectors == nil {
		c.Capture.ExcludeSelectors = defaults.Capture.ExcludeSelectors
	}

	for i := range c.Profiles.Entries {
		c.Profiles.Entries[i].Name = strings.TrimSpace(c.Profiles.Entries[i].Name)
	}
	c.Profiles.Active = strings.TrimSpace(c.Profiles.Active)
	if len(c.Profiles.Entries) == 0 {
		c.Profiles.Entries = defaults.Profiles.Entries
		if c.Profiles.Active == "" {
			c.Profiles.Active = defaults.Profiles.Active
		}
	}
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
