package main

import (
	"bufio"
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
	"time"

	"github.com/magis-lab/spintiming/internal/config"
	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/camera"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
	"github.com/magis-lab/spintiming/internal/logic/edge"
	"github.com/magis-lab/spintiming/internal/logic/sweep"
	"github.com/magis-lab/spintiming/internal/logic/timing"
	"github.com/magis-lab/spintiming/internal/rig"
	"github.com/magis-lab/spintiming/internal/store/imgstore"
	"github.com/magis-lab/spintiming/internal/store/timinglog"
)

// errCameraCount means enumeration did not find exactly one camera.
var errCameraCount = errors.New("not exactly one camera")

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "trigdelay.yaml"), "path to config file")
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
	if err := cfg.ValidateSweep(); err != nil {
		log.Fatalf("invalid sweep: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	switch err := run(ctx, cfg, rig.Options{}, os.Stdin, os.Stdout); {
	case errors.Is(err, errCameraCount):
		os.Exit(-1)
	case errors.Is(err, context.Canceled):
		debug.Info("Run interrupted")
	case err != nil:
		log.Fatalf("trigger delay run failed: %v", err)
	}
}

// run opens the hardware, sweeps the configured exposures and prints the
// summary to out. Hardware is released before it returns.
func run(ctx context.Context, cfg *config.Config, opt rig.Options, in io.Reader, out io.Writer) error {
	plan, err := planFromConfig(cfg)
	if err != nil {
		return err
	}

	if cfg.Defaults.LockMemory {
		if err := rig.LockMemory(); err != nil {
			debug.Warn("lock memory: %v", err)
		} else {
			defer rig.UnlockMemory()
		}
	}

	debug.Step(1, "Initializing GPIO driver")
	r, err := rig.OpenGPIO(cfg, opt)
	if err != nil {
		return err
	}
	defer r.Close()

	debug.Step(2, "Opening camera")
	if err := r.OpenCamera(cfg); err != nil {
		if errors.Is(err, camera.ErrNoCamera) || errors.Is(err, camera.ErrTooManyCameras) {
			debug.Error(err)
			waitForEnter(in, out, "Not enough or too many cameras! Press Enter to exit.")
			return errCameraCount
		}
		return err
	}

	debug.Step(3, "Creating results log")
	tlog, err := timinglog.Create(cfg.LogPath(timinglog.DefaultName(time.Now())), r.Clock.TicksPerSecond())
	if err != nil {
		return err
	}
	debug.Value("Results log", tlog.Path())

	debug.Step(4, "Setting up exposure line watcher")
	pull, err := gpio.ParsePull(cfg.GPIO.Pull)
	if err != nil {
		return err
	}
	w, err := edge.NewWatcher(r.GPIO, edge.Config{
		Pin:             cfg.GPIO.ExposurePin,
		Active:          rig.ActiveLevel(cfg),
		PollInterval:    cfg.PollInterval(),
		PreferInterrupt: cfg.GPIO.PreferInterrupt,
		Pull:            pull,
	}, r.Clock)
	if err != nil {
		return err
	}

	session := timing.Session{Device: r.Camera, Watcher: w, Clock: r.Clock, Log: tlog}
	if cfg.Output.SaveImages {
		store, err := imgstore.New(cfg.ImageDir(), cfg.Output.ImageFormat)
		if err != nil {
			return err
		}
		if err := store.CheckWritable(); err != nil {
			return err
		}
		session.Images = store
		debug.Value("Image directory", store.Dir)
	}

	coord, err := timing.NewCoordinator(session, timing.Params{
		FetchTimeout: cfg.FetchTimeout(),
		EdgeTimeout:  cfg.EdgeTimeout(),
		ShutterMode:  cfg.Camera.ShutterMode,
		PixelFormat:  cfg.Camera.PixelFormat,
		ExposureLine: cfg.Camera.ExposureLine,
	})
	if err != nil {
		return err
	}

	sum, err := coord.Run(ctx, plan)
	printSummary(out, sum, tlog.Path())
	return err
}

// planFromConfig builds the sweep from the exposures_us list or the range.
func planFromConfig(cfg *config.Config) (*sweep.Plan, error) {
	var settings []sweep.Setting
	if r := cfg.Sweep.Range; r != nil {
		var err error
		settings, err = sweep.FromRange(r.Start, r.Stop, r.Step)
		if err != nil {
			return nil, fmt.Errorf("sweep.range: %w", err)
		}
	} else {
		settings = sweep.FromList(cfg.Sweep.ExposuresUs)
	}
	plan, err := sweep.NewPlan(settings, cfg.Sweep.Repetitions)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	return plan, nil
}

func printSummary(w io.Writer, sum timing.Summary, logPath string) {
	fmt.Fprintf(w, "Attempts: %d, records: %d (log %s)\n", sum.Attempts, sum.Records, logPath)
	fmt.Fprintf(w, "Incomplete: %d, fetch errors: %d, no edge: %d, acquisition errors: %d, skipped settings: %d\n",
		sum.Incomplete, sum.FetchErrors, sum.NoEdge, sum.AcquisitionErrors, sum.SkippedSettings)
	for _, s := range sum.Settings {
		if s.Samples == 0 {
			fmt.Fprintf(w, "  %8dus: no delay measured\n", s.ExposureUs)
			continue
		}
		fmt.Fprintf(w, "  %8dus: n=%d min=%v mean=%v max=%v\n", s.ExposureUs, s.Samples, s.Min, s.Mean, s.Max)
	}
}

func waitForEnter(in io.Reader, out io.Writer, prompt string) {
	fmt.Fprintln(out, prompt)
	_, _ = bufio.NewReader(in).ReadString('\n')
}
