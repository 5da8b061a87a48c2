// Package levellog prints every level change seen on a GPIO input, for
// checking the camera's output line wiring by hand.
package levellog

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
)

// Config selects the line and how often it is sampled. A zero Poll
// samples as fast as possible.
type Config struct {
	Pin  int
	Poll time.Duration
	Pull gpio.Pull
}

// Run writes the initial level, then one "<ticks> <level>" line per change,
// until ctx is done. It returns the number of changes seen. A cancelled
// context is not an error.
func Run(ctx context.Context, drv gpio.Driver, cfg Config, clk clock.Clock, w io.Writer) (int, error) {
	if err := drv.SetupPin(cfg.Pin, gpio.Input); err != nil {
		return 0, fmt.Errorf("setup pin %d: %w", cfg.Pin, err)
	}
	if err := gpio.ApplyPull(drv, cfg.Pin, cfg.Pull); err != nil {
		return 0, err
	}
	cur, err := drv.ReadPin(cfg.Pin)
	if err != nil {
		return 0, fmt.Errorf("read pin %d: %w", cfg.Pin, err)
	}
	if _, err := fmt.Fprintf(w, "%d %s\n", clk.Now(), cur); err != nil {
		return 0, err
	}

	changes := 0
	done := ctx.Done()
	for {
		select {
		case <-done:
			return changes, nil
		default:
		}
		now, err := drv.ReadPin(cfg.Pin)
		if err != nil {
			return changes, fmt.Errorf("read pin %d: %w", cfg.Pin, err)
		}
		if now != cur {
			if _, err := fmt.Fprintf(w, "%d %s\n", clk.Now(), now); err != nil {
				return changes, err
			}
			cur = now
			changes++
		}
		if cfg.Poll > 0 {
			time.Sleep(cfg.Poll)
		} else {
			runtime.Gosched()
		}
	}
}
