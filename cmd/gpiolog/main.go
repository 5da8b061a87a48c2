package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/config"
	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
	"github.com/magis-lab/spintiming/internal/logic/levellog"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "gpiolog.yaml"), "path to config file")
	pin := flag.Int("pin", 0, "override gpio.exposure_pin (BCM)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *pin != 0 {
		if *pin < 1 || *pin > 27 {
			log.Fatalf("pin must be a BCM pin between 1 and 27, got %d", *pin)
		}
		cfg.GPIO.ExposurePin = *pin
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Value("GPIO backend", cfg.GPIO.Backend)
	debug.Value("Pin", cfg.GPIO.ExposurePin)

	drv, err := gpio.NewDriver(cfg.GPIO.Backend)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	err = run(ctx, cfg, drv, os.Stdout)
	if cerr := drv.Close(); cerr != nil {
		log.Printf("closing GPIO driver failed: %v", cerr)
	}
	if err != nil {
		log.Fatalf("level log failed: %v", err)
	}
}

// run logs level changes on the configured pin until ctx is done.
func run(ctx context.Context, cfg *config.Config, drv gpio.Driver, out io.Writer) error {
	pull, err := gpio.ParsePull(cfg.GPIO.Pull)
	if err != nil {
		return fmt.Errorf("invalid gpio.pull: %w", err)
	}
	lcfg := levellog.Config{Pin: cfg.GPIO.ExposurePin, Poll: cfg.PollInterval(), Pull: pull}
	n, err := levellog.Run(ctx, drv, lcfg, clock.NewMonotonic(), out)
	if err != nil {
		return err
	}
	debug.Info("%d level changes on pin %d", n, cfg.GPIO.ExposurePin)
	return nil
}
