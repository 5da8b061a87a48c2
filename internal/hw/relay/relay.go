package relay

import (
	"time"

	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
)

// Config holds the wiring of the camera power relay.
type Config struct {
	Pin       int  // BCM pin driving the relay input
	ActiveLow bool // relay boards that close on LOW
}

// Relay switches the camera supply. Closing the relay powers the camera
// on, opening it powers the camera off.
type Relay struct {
	gpio gpio.Driver
	cfg  Config
}

// New sets the relay pin up as an output. The relay state is left as is
// until Close or Open is called.
func New(g gpio.Driver, cfg Config) (*Relay, error) {
	if err := g.SetupPin(cfg.Pin, gpio.Output); err != nil {
		return nil, err
	}
	debug.Verbose("Relay: set up on pin %d (active low: %v)", cfg.Pin, cfg.ActiveLow)
	return &Relay{gpio: g, cfg: cfg}, nil
}

func (r *Relay) level(closed bool) gpio.Level {
	if r.cfg.ActiveLow {
		return gpio.Level(!closed)
	}
	return gpio.Level(closed)
}

// Close closes the relay, powering the camera on.
func (r *Relay) Close() error {
	debug.Live("Closing relay (camera power on)")
	return r.gpio.WritePin(r.cfg.Pin, r.level(true))
}

// Open opens the relay, powering the camera off.
func (r *Relay) Open() error {
	debug.Live("Opening relay (camera power off)")
	return r.gpio.WritePin(r.cfg.Pin, r.level(false))
}

// PowerCycle powers the camera off for off, then back on. The camera needs
// a few seconds after this before it enumerates again.
func (r *Relay) PowerCycle(off time.Duration) error {
	if err := r.Open(); err != nil {
		return err
	}
	time.Sleep(off)
	return r.Close()
}
