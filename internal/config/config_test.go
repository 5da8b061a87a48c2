package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "trigdelay.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_Rejected(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"traversal":      "../../etc/passwd",
		"inner_dotdot":   "configs/../../../etc/shadow.yaml",
		"json":           "configs/trigdelay.json",
		"yml":            "configs/trigdelay.yml",
		"no_extension":   "configs/trigdelay",
		"other_dir":      "other/trigdelay.yaml",
		"bare_file":      "trigdelay.yaml",
		"absolute_other": "/tmp/trigdelay.yaml",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ValidateConfigPath(path); err == nil {
				t.Errorf("expected error for %q, got nil", path)
			}
		})
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Must not panic; the result depends on the OS.
	_ = ValidateConfigPath(long)
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
camera:
  type: spinnaker
  fetch_timeout_ms: 1500
  shutter_mode: GlobalReset
  pixel_format: 16
  exposure_line: Line2
gpio:
  backend: periph
  exposure_pin: 23
  active_low: true
  poll_interval_us: 5
  prefer_interrupt: true
sweep:
  exposures_us: [700, 800]
  repetitions: 2
characterize:
  range: {start: 105000, stop: 200000, step: 5000}
  bit_depths: [12]
  per_setting: 5
output:
  dir: /data/run_02
  image_dir: frames
  image_format: fits
  save_images: true
relay:
  pin: 24
  active_low: false
defaults:
  debug_level: 2
`

func TestLoad_ValidFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Type != "spinnaker" || cfg.Camera.ShutterMode != "GlobalReset" || cfg.Camera.PixelFormat != 16 {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.GPIO.Backend != "periph" || cfg.GPIO.ExposurePin != 23 || !cfg.GPIO.ActiveLow || !cfg.GPIO.PreferInterrupt {
		t.Errorf("gpio = %+v", cfg.GPIO)
	}
	if len(cfg.Sweep.ExposuresUs) != 2 || cfg.Sweep.Repetitions != 2 {
		t.Errorf("sweep = %+v", cfg.Sweep)
	}
	if r := cfg.Characterize.Range; r == nil || r.Start != 105000 || r.Stop != 200000 || r.Step != 5000 {
		t.Errorf("characterize.range = %+v", r)
	}
	if err := cfg.ValidateSweep(); err != nil {
		t.Errorf("ValidateSweep: %v", err)
	}
	if err := cfg.ValidateCharacterize(); err != nil {
		t.Errorf("ValidateCharacterize: %v", err)
	}
	if cfg.FetchTimeout() != 1500*time.Millisecond {
		t.Errorf("FetchTimeout() = %v", cfg.FetchTimeout())
	}
	if cfg.EdgeTimeout() != 1500*time.Millisecond {
		t.Errorf("EdgeTimeout() = %v, want fetch timeout", cfg.EdgeTimeout())
	}
	if cfg.PollInterval() != 5*time.Microsecond {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	if cfg.DiscoveryTimeout() != 10*time.Second {
		t.Errorf("DiscoveryTimeout() = %v, want 10s with a relay", cfg.DiscoveryTimeout())
	}
	if cfg.ImageDir() != filepath.Join("/data/run_02", "frames") {
		t.Errorf("ImageDir() = %s", cfg.ImageDir())
	}
	if got := cfg.LogPath("default.txt"); got != filepath.Join("/data/run_02", "default.txt") {
		t.Errorf("LogPath() = %s", got)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	yaml := `
camera:
  type: simulated
gpio:
  exposure_pin: 23
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"fetch_timeout_ms", cfg.Camera.FetchTimeoutMs, 1000},
		{"shutter_mode", cfg.Camera.ShutterMode, "Rolling"},
		{"pixel_format", cfg.Camera.PixelFormat, 8},
		{"exposure_line", cfg.Camera.ExposureLine, "Line1"},
		{"discovery_timeout_ms", cfg.Camera.DiscoveryTimeoutMs, 0},
		{"gpio.backend", cfg.GPIO.Backend, "rpio"},
		{"edge_timeout_ms", cfg.GPIO.EdgeTimeoutMs, 1000},
		{"repetitions", cfg.Sweep.Repetitions, 1},
		{"per_setting", cfg.Characterize.PerSetting, 20},
		{"characterize.pixel_format", cfg.Characterize.PixelFormat, 16},
		{"bit_depths", len(cfg.Characterize.BitDepths), 3},
		{"output.dir", cfg.Output.Dir, "."},
		{"image_format", cfg.Output.ImageFormat, "raw"},
		{"relay.off_ms", cfg.Relay.OffMs, 2000},
		{"relay.boot_delay_ms", cfg.Relay.BootDelayMs, 3000},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s default = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.LogPath("x.txt") != "x.txt" {
		t.Errorf("LogPath = %s, want x.txt", cfg.LogPath("x.txt"))
	}
}

func TestLoad_MockGPIOShorthand(t *testing.T) {
	yaml := `
camera:
  type: simulated
gpio:
  backend: rpio
  exposure_pin: 23
defaults:
  mock_gpio: true
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GPIO.Backend != "mock" {
		t.Errorf("backend = %q, want mock", cfg.GPIO.Backend)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing_camera_type":  "gpio: {exposure_pin: 23}",
		"unknown_camera_type":  "camera: {type: usb}\ngpio: {exposure_pin: 23}",
		"bad_shutter":          "camera: {type: simulated, shutter_mode: Global}\ngpio: {exposure_pin: 23}",
		"bad_pixel_format":     "camera: {type: simulated, pixel_format: 12}\ngpio: {exposure_pin: 23}",
		"negative_discovery":   "camera: {type: simulated, discovery_timeout_ms: -1}\ngpio: {exposure_pin: 23}",
		"missing_pin":          "camera: {type: simulated}",
		"pin_out_of_range":     "camera: {type: simulated}\ngpio: {exposure_pin: 40}",
		"bad_backend":          "camera: {type: simulated}\ngpio: {exposure_pin: 23, backend: wiringpi}",
		"negative_poll":        "camera: {type: simulated}\ngpio: {exposure_pin: 23, poll_interval_us: -1}",
		"bad_pull":             "camera: {type: simulated}\ngpio: {exposure_pin: 23, pull: weak}",
		"negative_repetitions": "camera: {type: simulated}\ngpio: {exposure_pin: 23}\nsweep: {repetitions: -2}",
		"bad_image_format":     "camera: {type: simulated}\ngpio: {exposure_pin: 23}\noutput: {image_format: png}",
		"relay_on_input_pin":   "camera: {type: simulated}\ngpio: {exposure_pin: 23}\nrelay: {pin: 23}",
		"relay_out_of_range":   "camera: {type: simulated}\ngpio: {exposure_pin: 23}\nrelay: {pin: 99}",
		"debug_level":          "camera: {type: simulated}\ngpio: {exposure_pin: 23}\ndefaults: {debug_level: 7}",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, yaml)); err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestValidateSweep(t *testing.T) {
	cases := []struct {
		name    string
		sweep   string
		wantErr bool
	}{
		{"list", "sweep: {exposures_us: [25, 50]}", false},
		{"range", "sweep: {range: {start: 3000, stop: 5000, step: 500}}", false},
		{"none", "", true},
		{"both", "sweep: {exposures_us: [25], range: {start: 1, stop: 2, step: 1}}", true},
		{"zero_step", "sweep: {range: {start: 1, stop: 2, step: 0}}", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "camera: {type: simulated}\ngpio: {exposure_pin: 23}\n"+tc.sweep))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			err = cfg.ValidateSweep()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "{{{{invalid yaml!!!!")); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("expected error for empty config (camera.type missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
camera:
  type: simulated
gpio:
  exposure_pin: 23
unknown_section:
  foo: bar
`
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoad_ShippedConfigs(t *testing.T) {
	for _, name := range []string{"trigdelay.yaml", "camchar.yaml", "gpiolog.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(filepath.Join("..", "..", "configs", name))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			switch name {
			case "trigdelay.yaml":
				if err := cfg.ValidateSweep(); err != nil {
					t.Errorf("ValidateSweep: %v", err)
				}
			case "camchar.yaml":
				if err := cfg.ValidateCharacterize(); err != nil {
					t.Errorf("ValidateCharacterize: %v", err)
				}
			}
		})
	}
}
