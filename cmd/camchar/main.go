package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/magis-lab/spintiming/internal/config"
	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/logic/characterize"
	"github.com/magis-lab/spintiming/internal/logic/sweep"
	"github.com/magis-lab/spintiming/internal/rig"
	"github.com/magis-lab/spintiming/internal/store/imgstore"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "camchar.yaml"), "path to config file")
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
	if err := cfg.ValidateCharacterize(); err != nil {
		log.Fatalf("invalid characterization: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)

	switch err := run(ctx, cfg, os.Stdout); {
	case errors.Is(err, context.Canceled):
		debug.Info("Characterization interrupted")
	case err != nil:
		log.Fatalf("characterization failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	plan, err := planFromConfig(cfg)
	if err != nil {
		return err
	}

	// Fail before touching the camera when frames could not be kept.
	store, err := imgstore.New(cfg.ImageDir(), cfg.Output.ImageFormat)
	if err != nil {
		return err
	}
	if err := store.CheckWritable(); err != nil {
		return err
	}

	debug.Step(1, "Initializing GPIO driver")
	r, err := rig.OpenGPIO(cfg, rig.Options{})
	if err != nil {
		return err
	}
	defer r.Close()

	debug.Step(2, "Opening camera")
	if err := r.OpenCamera(cfg); err != nil {
		return err
	}

	debug.Step(3, "Acquiring frames")
	res, err := characterize.Run(ctx, r.Camera, store, plan)
	fmt.Fprintf(out, "Saved %d frames to %s (incomplete: %d, failed: %d)\n", res.Saved, store.Dir, res.Incomplete, res.Failed)
	return err
}

// planFromConfig builds the characterization plan from the characterize
// section. Each exposure is visited once; PerSetting frames are taken per
// bit depth.
func planFromConfig(cfg *config.Config) (characterize.Plan, error) {
	c := cfg.Characterize
	var settings []sweep.Setting
	if c.Range != nil {
		var err error
		settings, err = sweep.FromRange(c.Range.Start, c.Range.Stop, c.Range.Step)
		if err != nil {
			return characterize.Plan{}, fmt.Errorf("characterize.range: %w", err)
		}
	} else {
		settings = sweep.FromList(c.ExposuresUs)
	}
	exposures, err := sweep.NewPlan(settings, 1)
	if err != nil {
		return characterize.Plan{}, fmt.Errorf("characterize: %w", err)
	}
	p := characterize.Plan{
		Exposures:    exposures,
		BitDepths:    c.BitDepths,
		PerSetting:   c.PerSetting,
		FetchTimeout: cfg.FetchTimeout(),
		PixelFormat:  c.PixelFormat,
	}
	if err := p.Validate(); err != nil {
		return characterize.Plan{}, err
	}
	return p, nil
}
