package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/magis-lab/spintiming/internal/config"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "gpiolog.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

const mockYAML = `
gpio:
  backend: mock
  exposure_pin: 23
  pull: up
`

// unreadableDriver fails every pin read.
type unreadableDriver struct{ *gpio.MockDriver }

func (unreadableDriver) ReadPin(int) (gpio.Level, error) {
	return gpio.Low, errors.New("gpiomem unmapped")
}

func TestRun_PrintsInitialLevel(t *testing.T) {
	cfg := loadConfig(t, mockYAML)
	drv := gpio.NewMockDriver()
	drv.SetLevel(23, gpio.High)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if err := run(ctx, cfg, drv, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out.String()), " 1") {
		t.Errorf("output = %q, want the initial high level", out.String())
	}
	if drv.PullOf(23) != gpio.PullUp {
		t.Errorf("pull = %v, want up", drv.PullOf(23))
	}
}

func TestRun_ReadErrorFails(t *testing.T) {
	cfg := loadConfig(t, mockYAML)
	drv := unreadableDriver{gpio.NewMockDriver()}
	if err := run(context.Background(), cfg, drv, &bytes.Buffer{}); err == nil {
		t.Error("expected the read error to end the run")
	}
}
