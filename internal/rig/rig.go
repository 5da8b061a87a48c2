// Package rig opens the bench hardware shared by the tools: the GPIO
// driver, the optional camera power relay and the single attached camera.
package rig

import (
	"errors"
	"fmt"
	"time"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/config"
	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/camera"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
	"github.com/magis-lab/spintiming/internal/hw/relay"
)

// Rig is the opened hardware of one run.
type Rig struct {
	GPIO   gpio.Driver
	Clock  clock.Clock
	Relay  *relay.Relay // nil without relay.pin
	System camera.System
	Camera camera.Device
}

// Options overrides what OpenGPIO and OpenCamera would otherwise create
// from the config. Tests use it to inject a driver, a clock and a camera
// system.
type Options struct {
	GPIO   gpio.Driver
	Clock  clock.Clock
	System camera.System
	// Sleep replaces time.Sleep for the relay boot delay.
	Sleep func(time.Duration)
}

// OpenGPIO creates the GPIO driver, powers the camera through the relay
// when one is configured and returns a Rig without a camera.
func OpenGPIO(cfg *config.Config, opt Options) (*Rig, error) {
	if cfg.Camera.Type == camera.BackendSimulated && cfg.GPIO.Backend != gpio.BackendMock && opt.GPIO == nil {
		return nil, errors.New("camera.type simulated drives its exposure line through the mock GPIO backend (set gpio.backend: mock)")
	}
	r := &Rig{GPIO: opt.GPIO, Clock: opt.Clock, System: opt.System}
	if r.Clock == nil {
		r.Clock = clock.NewMonotonic()
	}
	if r.GPIO == nil {
		drv, err := gpio.NewDriver(cfg.GPIO.Backend)
		if err != nil {
			return nil, fmt.Errorf("init GPIO: %w", err)
		}
		r.GPIO = drv
	}
	debug.Value("GPIO backend", cfg.GPIO.Backend)

	if cfg.Relay.Pin > 0 {
		sleep := opt.Sleep
		if sleep == nil {
			sleep = time.Sleep
		}
		rl, err := relay.New(r.GPIO, relay.Config{Pin: cfg.Relay.Pin, ActiveLow: cfg.Relay.ActiveLow})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("setup relay: %w", err)
		}
		r.Relay = rl
		if cfg.Relay.PowerCycle {
			err = rl.PowerCycle(cfg.RelayOff())
		} else {
			err = rl.Close()
		}
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("switch relay: %w", err)
		}
		debug.Live("Waiting %v for the camera to boot", cfg.RelayBootDelay())
		sleep(cfg.RelayBootDelay())
	}
	return r, nil
}

// OpenCamera opens the camera system selected by camera.type, unless one
// was injected through Options, and keeps its only camera. On ErrNoCamera or
// ErrTooManyCameras the system is left open so the caller decides when to
// release it.
func (r *Rig) OpenCamera(cfg *config.Config) error {
	if r.System == nil {
		sys, err := r.openSystem(cfg)
		if err != nil {
			return err
		}
		r.System = sys
	}

	dev, err := camera.OpenOne(r.System, cfg.DiscoveryTimeout())
	if err != nil {
		return err
	}
	r.Camera = dev
	if info, err := dev.DeviceInfo(); err == nil {
		for k, v := range info {
			debug.Value(k, v)
		}
	} else {
		debug.Warn("device info: %v", err)
	}
	return nil
}

func (r *Rig) openSystem(cfg *config.Config) (camera.System, error) {
	switch cfg.Camera.Type {
	case camera.BackendSpinnaker:
		sys, err := camera.OpenSpinnaker()
		if err != nil {
			return nil, fmt.Errorf("open camera system: %w", err)
		}
		return sys, nil
	case camera.BackendSimulated:
		line, ok := r.GPIO.(camera.LineDriver)
		if !ok {
			return nil, fmt.Errorf("GPIO driver %T cannot carry the simulated exposure line", r.GPIO)
		}
		sim := camera.NewSimulated(camera.SimConfig{
			Line:           line,
			Pin:            cfg.GPIO.ExposurePin,
			Active:         ActiveLevel(cfg),
			WiredLine:      cfg.Camera.ExposureLine,
			TriggerLatency: cfg.TriggerLatency(),
			Width:          cfg.Camera.Simulated.Width,
			Height:         cfg.Camera.Simulated.Height,
			Serial:         cfg.Camera.Simulated.Serial,
		})
		return &camera.SimSystem{Devices: []camera.Device{sim}}, nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// ActiveLevel is the GPIO level that means exposure active.
func ActiveLevel(cfg *config.Config) gpio.Level {
	return gpio.Level(!cfg.GPIO.ActiveLow)
}

// Close releases the camera system and the GPIO driver. The relay is left
// closed so the camera stays powered.
func (r *Rig) Close() {
	if r.System != nil {
		if err := r.System.Close(); err != nil {
			debug.Warn("release camera system: %v", err)
		}
		r.System = nil
	}
	if r.GPIO != nil {
		if err := r.GPIO.Close(); err != nil {
			debug.Warn("closing GPIO driver failed: %v", err)
		}
		r.GPIO = nil
	}
}
