// Package characterize takes a stack of frames for every combination of
// exposure time and ADC bit depth, for offline sensor characterization.
package characterize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/camera"
	"github.com/magis-lab/spintiming/internal/logic/sweep"
	"github.com/magis-lab/spintiming/internal/store/imgstore"
)

// FrameStore persists complete frames.
type FrameStore interface {
	Save(name string, img *camera.Image, meta imgstore.Meta) (string, error)
}

// Plan defines a characterization run.
type Plan struct {
	Exposures    *sweep.Plan
	BitDepths    []int
	PerSetting   int
	FetchTimeout time.Duration
	PixelFormat  int
}

// Validate checks the plan.
func (p Plan) Validate() error {
	if p.Exposures == nil || len(p.Exposures.Settings) == 0 {
		return errors.New("characterization needs at least one exposure")
	}
	if len(p.BitDepths) == 0 {
		return errors.New("characterization needs at least one bit depth")
	}
	for _, b := range p.BitDepths {
		if b != 10 && b != 12 && b != 14 {
			return fmt.Errorf("invalid bit depth %d (want 10, 12 or 14)", b)
		}
	}
	if p.PerSetting < 1 {
		return fmt.Errorf("frames per setting must be >= 1, got %d", p.PerSetting)
	}
	return nil
}

// Result counts saved and lost frames.
type Result struct {
	Saved      int
	Incomplete int
	Failed     int
	Paths      []string
}

// FrameName returns the file name (without extension) of the n-th frame,
// 1-based, of one exposure/bit depth combination.
func FrameName(exposureUs, bitDepth, n int) string {
	return fmt.Sprintf("img_exp%dus_bitDepth%d_%03d", exposureUs, bitDepth, n)
}

// Run acquires the frames. For each exposure the device is initialized,
// switched to single frame and given the exposure time; then, for each
// bit depth, PerSetting frames are taken, each in its own acquisition
// window. Incomplete frames and fetch errors are logged and skipped.
func Run(ctx context.Context, dev camera.Device, store FrameStore, p Plan) (Result, error) {
	var res Result
	if err := p.Validate(); err != nil {
		return res, err
	}
	if p.FetchTimeout <= 0 {
		p.FetchTimeout = time.Second
	}
	if p.PixelFormat == 0 {
		p.PixelFormat = 16
	}

	if info, err := dev.DeviceInfo(); err == nil {
		debug.PrintStruct("Device", info)
	}
	debug.Section("Characterization")
	debug.Value("Exposures", p.Exposures.Values())
	debug.Value("Bit depths", p.BitDepths)
	debug.Value("Frames per setting", p.PerSetting)

	for i, setting := range p.Exposures.Settings {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		debug.Live("Exposure %d/%d: %dus", i+1, len(p.Exposures.Settings), setting.ExposureUs)

		if err := dev.Initialize(); err != nil {
			return res, fmt.Errorf("initialize: %w", err)
		}
		err := runExposure(ctx, dev, store, p, setting.ExposureUs, &res)
		if derr := dev.Deinitialize(); derr != nil {
			debug.Warn("deinitialize: %v", derr)
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func runExposure(ctx context.Context, dev camera.Device, store FrameStore, p Plan, exposureUs int, res *Result) error {
	if err := camera.SetAcquisitionMode(dev, camera.AcquisitionSingleFrame); err != nil {
		return err
	}
	if err := camera.SetPixelFormat(dev, p.PixelFormat); err != nil {
		return err
	}
	actual, _, err := camera.SetExposureTime(dev, float64(exposureUs))
	if err != nil {
		return err
	}
	exposure := time.Duration(actual * float64(time.Microsecond))

	for _, bits := range p.BitDepths {
		if err := camera.SetADCBitDepth(dev, bits); err != nil {
			return err
		}
		for n := 1; n <= p.PerSetting; n++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := dev.BeginAcquisition(); err != nil {
				return fmt.Errorf("begin acquisition: %w", err)
			}
			img, ferr := dev.GetNextImage(p.FetchTimeout + exposure)
			if err := dev.EndAcquisition(); err != nil {
				debug.Warn("end acquisition: %v", err)
			}

			switch {
			case ferr != nil:
				debug.Error(fmt.Errorf("fetch image: %w", ferr))
				res.Failed++
				continue
			case !img.Complete:
				debug.Warn("Image incomplete: %s", img.StatusText)
				res.Incomplete++
				continue
			}

			meta := imgstore.Meta{
				ExposureUs:  actual,
				BitDepth:    bits,
				PixelFormat: fmt.Sprintf("Mono%d", p.PixelFormat),
				Time:        time.Now(),
			}
			path, err := store.Save(FrameName(exposureUs, bits, n), img, meta)
			if err != nil {
				return err
			}
			res.Saved++
			res.Paths = append(res.Paths, path)
			debug.Verbose("Image saved at %s", path)
		}
	}
	return nil
}
