// Package edge waits for a camera GPIO output (typically ExposureActive) to
// reach its active level and timestamps the moment it was observed.
package edge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
)

// ErrNoEdge is returned by Await when the context ends before the line
// reached its active level.
var ErrNoEdge = errors.New("no edge observed")

// interruptSlice bounds a single interrupt wait so cancellation is noticed
// even when the deadline is far away.
const interruptSlice = 50 * time.Millisecond

// Config describes the watched line.
type Config struct {
	Pin    int
	Active gpio.Level

	// PollInterval is the sleep between two reads when polling. Zero spins,
	// yielding the processor between reads.
	PollInterval time.Duration

	// PreferInterrupt uses the driver's edge interrupt when it has one.
	PreferInterrupt bool

	// Pull biases the input. PullNoChange leaves the pin alone.
	Pull gpio.Pull
}

// Watcher observes one input line. A Watcher does not keep state between
// calls to Await, so one instance serves every capture attempt of a run.
type Watcher struct {
	drv    gpio.Driver
	waiter gpio.EdgeWaiter
	cfg    Config
	clk    clock.Clock
}

// NewWatcher sets the line up as an input. An error here means the GPIO
// subsystem cannot serve the run at all.
func NewWatcher(drv gpio.Driver, cfg Config, clk clock.Clock) (*Watcher, error) {
	if err := drv.SetupPin(cfg.Pin, gpio.Input); err != nil {
		return nil, fmt.Errorf("setup exposure line pin %d: %w", cfg.Pin, err)
	}
	if err := gpio.ApplyPull(drv, cfg.Pin, cfg.Pull); err != nil {
		return nil, err
	}
	w := &Watcher{drv: drv, cfg: cfg, clk: clk}
	if cfg.PreferInterrupt {
		if ew, ok := drv.(gpio.EdgeWaiter); ok {
			w.waiter = ew
		} else {
			debug.Warn("GPIO driver %T has no edge interrupt, polling pin %d", drv, cfg.Pin)
		}
	}
	return w, nil
}

// Pin returns the watched pin.
func (w *Watcher) Pin() int { return w.cfg.Pin }

// Await blocks until the line reads the active level and returns the clock
// reading taken right after that read. It returns an error wrapping
// ErrNoEdge if ctx is done first, and a read error as is.
func (w *Watcher) Await(ctx context.Context) (clock.Ticks, error) {
	if w.waiter != nil {
		return w.awaitInterrupt(ctx)
	}
	return w.awaitPoll(ctx)
}

func (w *Watcher) awaitPoll(ctx context.Context) (clock.Ticks, error) {
	done := ctx.Done()
	for {
		l, err := w.drv.ReadPin(w.cfg.Pin)
		if err != nil {
			return 0, fmt.Errorf("read pin %d: %w", w.cfg.Pin, err)
		}
		if l == w.cfg.Active {
			return w.clk.Now(), nil
		}
		select {
		case <-done:
			return 0, fmt.Errorf("%w on pin %d: %v", ErrNoEdge, w.cfg.Pin, ctx.Err())
		default:
		}
		if w.cfg.PollInterval > 0 {
			time.Sleep(w.cfg.PollInterval)
		} else {
			runtime.Gosched()
		}
	}
}

func (w *Watcher) awaitInterrupt(ctx context.Context) (clock.Ticks, error) {
	for {
		slice := interruptSlice
		if dl, ok := ctx.Deadline(); ok {
			if remaining := time.Until(dl); remaining < slice {
				slice = remaining
			}
		}
		if slice <= 0 {
			return 0, fmt.Errorf("%w on pin %d: %v", ErrNoEdge, w.cfg.Pin, context.DeadlineExceeded)
		}
		ok, err := w.waiter.WaitForEdge(w.cfg.Pin, w.cfg.Active, slice)
		if err != nil {
			return 0, fmt.Errorf("wait for edge on pin %d: %w", w.cfg.Pin, err)
		}
		if ok {
			return w.clk.Now(), nil
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w on pin %d: %v", ErrNoEdge, w.cfg.Pin, err)
		}
	}
}
