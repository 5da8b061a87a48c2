package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// CameraConfig selects and parameterizes the camera backend.
type CameraConfig struct {
	Type               string          `yaml:"type"`                 // "spinnaker" or "simulated"
	FetchTimeoutMs     int             `yaml:"fetch_timeout_ms"`     // image fetch timeout, added to the exposure time
	ShutterMode        string          `yaml:"shutter_mode"`         // "Rolling" or "GlobalReset"
	PixelFormat        int             `yaml:"pixel_format"`         // 8 (Mono8) or 16 (Mono16)
	ExposureLine       string          `yaml:"exposure_line"`        // camera output carrying ExposureActive, e.g. "Line1"
	DiscoveryTimeoutMs int             `yaml:"discovery_timeout_ms"` // how long to retry an empty enumeration
	Simulated          SimulatedConfig `yaml:"simulated"`
}

// SimulatedConfig parameterizes the in-process camera.
type SimulatedConfig struct {
	TriggerLatencyUs int    `yaml:"trigger_latency_us"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	Serial           string `yaml:"serial"`
}

// GPIOConfig describes the exposure-active input line.
type GPIOConfig struct {
	Backend         string `yaml:"backend"`          // "rpio", "periph" or "mock"
	ExposurePin     int    `yaml:"exposure_pin"`     // BCM pin wired to the camera output line
	ActiveLow       bool   `yaml:"active_low"`       // exposure active reads LOW (opto-isolated outputs invert)
	PollIntervalUs  int    `yaml:"poll_interval_us"` // 0 = busy poll
	EdgeTimeoutMs   int    `yaml:"edge_timeout_ms"`  // watcher bound, added to the exposure time
	PreferInterrupt bool   `yaml:"prefer_interrupt"` // sleep on the edge interrupt when the backend has one
	Pull            string `yaml:"pull"`             // "", "off", "up" or "down"
}

// RangeConfig is an inclusive arithmetic exposure sequence.
type RangeConfig struct {
	Start int `yaml:"start"`
	Stop  int `yaml:"stop"`
	Step  int `yaml:"step"`
}

// ExposureSource is either an explicit list or a range, not both.
type ExposureSource struct {
	ExposuresUs []int        `yaml:"exposures_us"`
	Range       *RangeConfig `yaml:"range,omitempty"`
}

func (e ExposureSource) validate(section string) error {
	switch {
	case len(e.ExposuresUs) > 0 && e.Range != nil:
		return fmt.Errorf("%s: set either exposures_us or range, not both", section)
	case len(e.ExposuresUs) == 0 && e.Range == nil:
		return fmt.Errorf("%s: exposures_us or range is required", section)
	case e.Range != nil && e.Range.Step == 0:
		return fmt.Errorf("%s.range.step must not be 0", section)
	}
	return nil
}

// SweepConfig is the trigger-delay exposure sweep.
type SweepConfig struct {
	ExposureSource `yaml:",inline"`
	Repetitions    int `yaml:"repetitions"`
}

// CharacterizeConfig is the sensor characterization run.
type CharacterizeConfig struct {
	ExposureSource `yaml:",inline"`
	BitDepths      []int `yaml:"bit_depths"`
	PerSetting     int   `yaml:"per_setting"`
	PixelFormat    int   `yaml:"pixel_format"`
}

// OutputConfig says where results go.
type OutputConfig struct {
	Dir         string `yaml:"dir"`          // results directory
	LogName     string `yaml:"log_name"`     // empty = triggerDelay-<timestamp>.txt
	ImageDir    string `yaml:"image_dir"`    // relative to dir unless absolute
	ImageFormat string `yaml:"image_format"` // "raw" or "fits"
	SaveImages  bool   `yaml:"save_images"`  // keep trigger-delay frames
}

// RelayConfig describes the optional camera power relay.
type RelayConfig struct {
	Pin         int  `yaml:"pin"` // BCM pin. 0 = no relay.
	ActiveLow   bool `yaml:"active_low"`
	PowerCycle  bool `yaml:"power_cycle"`   // power the camera off and on before the run
	OffMs       int  `yaml:"off_ms"`        // power-off time for a power cycle
	BootDelayMs int  `yaml:"boot_delay_ms"` // wait after power-on before enumerating
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // shorthand for gpio.backend: mock
	LockMemory bool `yaml:"lock_memory"` // mlockall before the sweep (Linux, needs CAP_IPC_LOCK)
}

// Config aggregates all application configuration.
type Config struct {
	Camera       CameraConfig       `yaml:"camera"`
	GPIO         GPIOConfig         `yaml:"gpio"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Characterize CharacterizeConfig `yaml:"characterize"`
	Output       OutputConfig       `yaml:"output"`
	Relay        RelayConfig        `yaml:"relay"`
	Defaults     DefaultsConfig     `yaml:"defaults"`
}

// ValidateConfigPath rejects config paths that are empty, not .yaml files,
// contain parent directory components or do not live in a configs/
// directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration. Sections a program
// does not use may be left out; Load validates what is present and fills
// defaults. Sweep plans are checked by the programs that run them.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Camera
	switch cfg.Camera.Type {
	case "spinnaker", "simulated":
	case "":
		return nil, fmt.Errorf("camera.type is required")
	default:
		return nil, fmt.Errorf("camera.type must be spinnaker or simulated, got %q", cfg.Camera.Type)
	}
	if cfg.Camera.FetchTimeoutMs <= 0 {
		cfg.Camera.FetchTimeoutMs = 1000 // SDK examples use 1s
	}
	switch strings.ToLower(cfg.Camera.ShutterMode) {
	case "":
		cfg.Camera.ShutterMode = "Rolling"
	case "rolling", "globalreset":
	default:
		return nil, fmt.Errorf("camera.shutter_mode must be Rolling or GlobalReset, got %q", cfg.Camera.ShutterMode)
	}
	if cfg.Camera.PixelFormat == 0 {
		cfg.Camera.PixelFormat = 8
	}
	if cfg.Camera.PixelFormat != 8 && cfg.Camera.PixelFormat != 16 {
		return nil, fmt.Errorf("camera.pixel_format must be 8 or 16, got %d", cfg.Camera.PixelFormat)
	}
	if cfg.Camera.ExposureLine == "" {
		cfg.Camera.ExposureLine = "Line1"
	}
	if cfg.Camera.DiscoveryTimeoutMs < 0 {
		return nil, fmt.Errorf("camera.discovery_timeout_ms must be >= 0")
	}

	// GPIO
	if cfg.Defaults.MockGPIO {
		cfg.GPIO.Backend = "mock"
	}
	switch cfg.GPIO.Backend {
	case "":
		cfg.GPIO.Backend = "rpio"
	case "rpio", "periph", "mock":
	default:
		return nil, fmt.Errorf("gpio.backend must be rpio, periph or mock, got %q", cfg.GPIO.Backend)
	}
	if cfg.GPIO.ExposurePin <= 0 || cfg.GPIO.ExposurePin > 27 {
		return nil, fmt.Errorf("gpio.exposure_pin must be a BCM pin between 1 and 27, got %d", cfg.GPIO.ExposurePin)
	}
	if cfg.GPIO.PollIntervalUs < 0 {
		return nil, fmt.Errorf("gpio.poll_interval_us must be >= 0")
	}
	switch cfg.GPIO.Pull {
	case "", "off", "up", "down":
	default:
		return nil, fmt.Errorf("gpio.pull must be off, up or down, got %q", cfg.GPIO.Pull)
	}
	if cfg.GPIO.EdgeTimeoutMs <= 0 {
		cfg.GPIO.EdgeTimeoutMs = cfg.Camera.FetchTimeoutMs
	}

	// Sweep
	if cfg.Sweep.Repetitions < 0 {
		return nil, fmt.Errorf("sweep.repetitions must be >= 1, got %d", cfg.Sweep.Repetitions)
	}
	if cfg.Sweep.Repetitions == 0 {
		cfg.Sweep.Repetitions = 1
	}

	// Characterization
	if len(cfg.Characterize.BitDepths) == 0 {
		cfg.Characterize.BitDepths = []int{10, 12, 14}
	}
	if cfg.Characterize.PerSetting <= 0 {
		cfg.Characterize.PerSetting = 20
	}
	if cfg.Characterize.PixelFormat == 0 {
		cfg.Characterize.PixelFormat = 16
	}

	// Output
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "."
	}
	if cfg.Output.ImageDir == "" {
		cfg.Output.ImageDir = "images"
	}
	switch cfg.Output.ImageFormat {
	case "":
		cfg.Output.ImageFormat = "raw"
	case "raw", "fits":
	default:
		return nil, fmt.Errorf("output.image_format must be raw or fits, got %q", cfg.Output.ImageFormat)
	}

	// Relay
	if cfg.Relay.Pin < 0 || cfg.Relay.Pin > 27 {
		return nil, fmt.Errorf("relay.pin must be between 0 and 27, got %d", cfg.Relay.Pin)
	}
	if cfg.Relay.Pin > 0 && cfg.Relay.Pin == cfg.GPIO.ExposurePin {
		return nil, fmt.Errorf("relay.pin and gpio.exposure_pin are both %d", cfg.Relay.Pin)
	}
	if cfg.Relay.OffMs <= 0 {
		cfg.Relay.OffMs = 2000
	}
	if cfg.Relay.BootDelayMs <= 0 {
		cfg.Relay.BootDelayMs = 3000
	}
	if cfg.Relay.Pin > 0 && cfg.Camera.DiscoveryTimeoutMs == 0 {
		cfg.Camera.DiscoveryTimeoutMs = 10000 // a freshly powered camera takes seconds to enumerate
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// ValidateSweep checks the trigger-delay sweep section.
func (c *Config) ValidateSweep() error {
	return c.Sweep.validate("sweep")
}

// ValidateCharacterize checks the characterization section.
func (c *Config) ValidateCharacterize() error {
	return c.Characterize.validate("characterize")
}

// FetchTimeout returns the image fetch timeout, before adding the exposure.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Camera.FetchTimeoutMs) * time.Millisecond
}

// EdgeTimeout returns the edge watcher bound, before adding the exposure.
func (c *Config) EdgeTimeout() time.Duration {
	return time.Duration(c.GPIO.EdgeTimeoutMs) * time.Millisecond
}

// PollInterval returns the delay between two reads of the exposure line.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.GPIO.PollIntervalUs) * time.Microsecond
}

// DiscoveryTimeout returns how long an empty camera enumeration is retried.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Camera.DiscoveryTimeoutMs) * time.Millisecond
}

// TriggerLatency returns the simulated camera's trigger latency.
func (c *Config) TriggerLatency() time.Duration {
	return time.Duration(c.Camera.Simulated.TriggerLatencyUs) * time.Microsecond
}

// RelayOff returns the power-off time of a relay power cycle.
func (c *Config) RelayOff() time.Duration {
	return time.Duration(c.Relay.OffMs) * time.Millisecond
}

// RelayBootDelay returns the wait after powering the camera on.
func (c *Config) RelayBootDelay() time.Duration {
	return time.Duration(c.Relay.BootDelayMs) * time.Millisecond
}

// LogPath returns the results file path, using defaultName when
// output.log_name is empty.
func (c *Config) LogPath(defaultName string) string {
	name := c.Output.LogName
	if name == "" {
		name = defaultName
	}
	return filepath.Join(c.Output.Dir, name)
}

// ImageDir returns the directory frames are written to.
func (c *Config) ImageDir() string {
	if filepath.IsAbs(c.Output.ImageDir) {
		return c.Output.ImageDir
	}
	return filepath.Join(c.Output.Dir, c.Output.ImageDir)
}
