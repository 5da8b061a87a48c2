// Package timing measures the delay between a software trigger and the
// moment the camera starts exposing, across an exposure sweep.
package timing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/camera"
	"github.com/magis-lab/spintiming/internal/logic/edge"
	"github.com/magis-lab/spintiming/internal/logic/sweep"
	"github.com/magis-lab/spintiming/internal/store/imgstore"
	"github.com/magis-lab/spintiming/internal/store/timinglog"
)

// EdgeSource returns the clock reading at which the exposure-active line
// was seen, or an error wrapping edge.ErrNoEdge once ctx is done.
type EdgeSource interface {
	Await(ctx context.Context) (clock.Ticks, error)
}

// RecordLog receives one record per capture attempt.
type RecordLog interface {
	Append(timinglog.Record) error
}

// ImageSink persists complete frames.
type ImageSink interface {
	Save(name string, img *camera.Image, meta imgstore.Meta) (string, error)
}

// Session bundles what one run owns exclusively. Watcher and Clock must
// share one clock domain: the trigger timestamp is read from Clock and
// compared with the watcher's.
type Session struct {
	Device  camera.Device
	Watcher EdgeSource
	Clock   clock.Clock
	Log     RecordLog
	Images  ImageSink // optional
}

// Params are fixed for a whole run.
type Params struct {
	// FetchTimeout bounds GetNextImage beyond the exposure time.
	FetchTimeout time.Duration
	// EdgeTimeout bounds the watcher beyond the exposure time. Zero uses
	// FetchTimeout.
	EdgeTimeout time.Duration

	ShutterMode  string
	PixelFormat  int
	ExposureLine string
}

// SettingStats aggregates the measured delays of one exposure setting.
type SettingStats struct {
	ExposureUs int
	Samples    int
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	sum        time.Duration
}

func (s *SettingStats) add(d time.Duration) {
	if s.Samples == 0 || d < s.Min {
		s.Min = d
	}
	if s.Samples == 0 || d > s.Max {
		s.Max = d
	}
	s.Samples++
	s.sum += d
	s.Mean = s.sum / time.Duration(s.Samples)
}

// Summary counts what happened during a run.
type Summary struct {
	Attempts          int
	Records           int
	Incomplete        int
	FetchErrors       int
	NoEdge            int
	AcquisitionErrors int
	SkippedSettings   int
	Settings          []SettingStats
}

// Coordinator runs capture attempts against one Session.
type Coordinator struct {
	s Session
	p Params
}

// NewCoordinator checks the session and fills parameter defaults.
func NewCoordinator(s Session, p Params) (*Coordinator, error) {
	if s.Device == nil || s.Watcher == nil || s.Clock == nil || s.Log == nil {
		return nil, errors.New("timing session needs a device, a watcher, a clock and a log")
	}
	if p.FetchTimeout <= 0 {
		p.FetchTimeout = time.Second
	}
	if p.EdgeTimeout <= 0 {
		p.EdgeTimeout = p.FetchTimeout
	}
	if p.ShutterMode == "" {
		p.ShutterMode = camera.ShutterRolling
	}
	if p.PixelFormat == 0 {
		p.PixelFormat = 8
	}
	if p.ExposureLine == "" {
		p.ExposureLine = "Line1"
	}
	return &Coordinator{s: s, p: p}, nil
}

// Run sweeps plan in order. Per-attempt failures (incomplete frame, fetch
// error, no edge, acquisition errors) are logged and counted; a setting
// whose configuration fails is skipped. Only a log write failure or ctx
// cancellation stops the run early, and the partial Summary is returned
// with the error.
func (c *Coordinator) Run(ctx context.Context, plan *sweep.Plan) (Summary, error) {
	var sum Summary
	debug.Section("Trigger delay sweep")
	debug.Value("Settings", len(plan.Settings))
	debug.Value("Repetitions", plan.Repetitions)

	for i, setting := range plan.Settings {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		exposure, err := c.setup(setting)
		if err != nil {
			debug.Error(fmt.Errorf("setting %d/%d (%s) skipped: %w", i+1, len(plan.Settings), setting, err))
			sum.SkippedSettings++
			continue
		}

		stats := SettingStats{ExposureUs: setting.ExposureUs}
		for rep := 1; rep <= plan.Repetitions; rep++ {
			if err := ctx.Err(); err != nil {
				c.teardown()
				return sum, err
			}
			debug.Attempt(i+1, len(plan.Settings), rep, plan.Repetitions, setting.ExposureUs)
			if err := c.attempt(ctx, setting, exposure, rep, &sum, &stats); err != nil {
				c.teardown()
				return sum, err
			}
		}
		c.teardown()
		sum.Settings = append(sum.Settings, stats)
	}
	return sum, nil
}

// setup initializes the device and applies one setting. It returns the
// exposure time the camera was given, after clamping. On failure the device
// is left deinitialized.
func (c *Coordinator) setup(s sweep.Setting) (time.Duration, error) {
	dev := c.s.Device
	if err := dev.Initialize(); err != nil {
		return 0, fmt.Errorf("initialize: %w", err)
	}
	var actualUs float64
	err := func() error {
		if err := camera.SetAcquisitionMode(dev, camera.AcquisitionSingleFrame); err != nil {
			return err
		}
		v, _, err := camera.SetExposureTime(dev, float64(s.ExposureUs))
		if err != nil {
			return err
		}
		actualUs = v
		if err := camera.SetShutterMode(dev, c.p.ShutterMode); err != nil {
			return err
		}
		if err := camera.SetPixelFormat(dev, c.p.PixelFormat); err != nil {
			return err
		}
		return camera.RouteExposureActive(dev, c.p.ExposureLine)
	}()
	if err != nil {
		c.teardown()
		return 0, err
	}
	return time.Duration(actualUs * float64(time.Microsecond)), nil
}

func (c *Coordinator) teardown() {
	if err := c.s.Device.Deinitialize(); err != nil {
		debug.Warn("deinitialize: %v", err)
	}
}

// attempt runs one capture. exposure is the time the camera was configured
// with and extends both the edge and the fetch bounds. It returns an error
// only when the run must stop.
func (c *Coordinator) attempt(ctx context.Context, s sweep.Setting, exposure time.Duration, rep int, sum *Summary, stats *SettingStats) error {
	dev := c.s.Device
	sum.Attempts++

	if err := dev.BeginAcquisition(); err != nil {
		debug.Error(fmt.Errorf("begin acquisition: %w", err))
		sum.AcquisitionErrors++
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, c.p.EdgeTimeout+exposure)
	defer cancel()
	g, gctx := errgroup.WithContext(wctx)
	var (
		edgeAt  clock.Ticks
		edgeErr error
	)
	g.Go(func() error {
		at, err := c.s.Watcher.Await(gctx)
		if err != nil && !errors.Is(err, edge.ErrNoEdge) {
			return err
		}
		edgeAt, edgeErr = at, err
		return nil
	})

	trigger := c.s.Clock.Now()
	img, fetchErr := dev.GetNextImage(c.p.FetchTimeout + exposure)
	if err := g.Wait(); err != nil {
		edgeErr = err
	}

	if err := dev.EndAcquisition(); err != nil {
		debug.Error(fmt.Errorf("end acquisition: %w", err))
		sum.AcquisitionErrors++
	}

	switch {
	case fetchErr != nil:
		debug.Error(fmt.Errorf("fetch image: %w", fetchErr))
		sum.FetchErrors++
	case !img.Complete:
		debug.Warn("Image incomplete with image status %d (%s)", int(img.Status), img.StatusText)
		sum.Incomplete++
	default:
		c.saveImage(s, rep, img)
	}

	rec := timinglog.Record{Trigger: trigger, ExposureUs: s.ExposureUs}
	if edgeErr == nil {
		rec.ExposureActive, rec.Edge = edgeAt, true
	} else {
		if errors.Is(edgeErr, edge.ErrNoEdge) {
			debug.Warn("no edge observed within %v", c.p.EdgeTimeout+exposure)
		} else {
			debug.Error(fmt.Errorf("edge watcher: %w", edgeErr))
		}
		sum.NoEdge++
	}

	if err := c.s.Log.Append(rec); err != nil {
		return fmt.Errorf("append timing record: %w", err)
	}
	sum.Records++

	if d, ok := rec.Delay(); ok {
		delay := clock.Duration(c.s.Clock, d)
		stats.add(delay)
		debug.Delay(s.ExposureUs, delay)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) saveImage(s sweep.Setting, rep int, img *camera.Image) {
	if c.s.Images == nil {
		return
	}
	name := fmt.Sprintf("trig_exp%dus_%03d", s.ExposureUs, rep)
	meta := imgstore.Meta{
		ExposureUs:  float64(s.ExposureUs),
		PixelFormat: fmt.Sprintf("Mono%d", c.p.PixelFormat),
		Time:        time.Now(),
	}
	path, err := c.s.Images.Save(name, img, meta)
	if err != nil {
		debug.Error(err)
		return
	}
	debug.Verbose("Image saved at %s", path)
}
