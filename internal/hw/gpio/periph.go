package gpio

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/magis-lab/spintiming/internal/debug"
	pgpio "periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// PeriphDriver drives pins through periph.io. Unlike RPiDriver it can block
// on an edge interrupt (sysfs/gpiochip) instead of polling.
type PeriphDriver struct {
	mu     sync.Mutex
	lookup func(name string) pgpio.PinIO
	pins   map[int]pgpio.PinIO
	edges  map[int]pgpio.Edge
	pulls  map[int]pgpio.Pull
}

// NewPeriphDriver initializes the periph host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing real GPIO driver (periph.io)")
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return NewPeriphDriverWithLookup(gpioreg.ByName), nil
}

// NewPeriphDriverWithLookup uses lookup to resolve BCM pin numbers (as
// decimal strings) to pins. Tests pass gpiotest pins through it.
func NewPeriphDriverWithLookup(lookup func(name string) pgpio.PinIO) *PeriphDriver {
	return &PeriphDriver{
		lookup: lookup,
		pins:   make(map[int]pgpio.PinIO),
		edges:  make(map[int]pgpio.Edge),
		pulls:  make(map[int]pgpio.Pull),
	}
}

func (d *PeriphDriver) pinLocked(pin int) (pgpio.PinIO, error) {
	if p, ok := d.pins[pin]; ok {
		return p, nil
	}
	p := d.lookup(strconv.Itoa(pin))
	if p == nil {
		return nil, fmt.Errorf("gpio: no such pin %d", pin)
	}
	d.pins[pin] = p
	return p, nil
}

func (d *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pinLocked(pin)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		d.edges[pin] = pgpio.NoEdge
		return p.In(d.pullLocked(pin), pgpio.NoEdge)
	case Output:
		return p.Out(pgpio.Low)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
}

// SetPull re-arms pin as an input with pull, keeping its edge detection.
func (d *PeriphDriver) SetPull(pin int, pull Pull) error {
	debug.GPIO("SetPull", pin, pull)
	var pp pgpio.Pull
	switch pull {
	case PullNoChange:
		pp = pgpio.PullNoChange
	case PullOff:
		pp = pgpio.Float
	case PullUp:
		pp = pgpio.PullUp
	case PullDown:
		pp = pgpio.PullDown
	default:
		return fmt.Errorf("unknown pull: %d", pull)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pinLocked(pin)
	if err != nil {
		return err
	}
	d.pulls[pin] = pp
	return p.In(pp, d.edges[pin])
}

func (d *PeriphDriver) pullLocked(pin int) pgpio.Pull {
	if pp, ok := d.pulls[pin]; ok {
		return pp
	}
	return pgpio.PullNoChange
}

func (d *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pinLocked(pin)
	if err != nil {
		return err
	}
	return p.Out(pgpio.Level(level))
}

func (d *PeriphDriver) ReadPin(pin int) (Level, error) {
	d.mu.Lock()
	p, err := d.pinLocked(pin)
	d.mu.Unlock()
	if err != nil {
		return Low, err
	}
	return Level(p.Read()), nil
}

// WaitForEdge arms edge detection towards level on first use, then sleeps
// on the interrupt. Spurious edges (bounce, or an edge consumed before the
// level settled) are filtered by re-reading the pin.
func (d *PeriphDriver) WaitForEdge(pin int, level Level, timeout time.Duration) (bool, error) {
	want := pgpio.RisingEdge
	if level == Low {
		want = pgpio.FallingEdge
	}

	d.mu.Lock()
	p, err := d.pinLocked(pin)
	if err == nil && d.edges[pin] != want {
		if err = p.In(d.pullLocked(pin), want); err == nil {
			d.edges[pin] = want
		}
	}
	d.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("arm edge detection on pin %d: %w", pin, err)
	}

	if Level(p.Read()) == level {
		return true, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if p.WaitForEdge(remaining) && Level(p.Read()) == level {
			return true, nil
		}
	}
}

func (d *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph)")
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for pin, p := range d.pins {
		if err := p.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("halt pin %d: %w", pin, err)
		}
	}
	return firstErr
}
