package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/magis-lab/spintiming/internal/debug"
)

// OpenOne enumerates sys and returns its only camera.
//
// A camera that was just powered on takes a few seconds to enumerate. When
// wait is positive, an empty enumeration is retried with exponential backoff
// for up to wait before giving up with ErrNoCamera. ErrTooManyCameras is
// returned at once.
func OpenOne(sys System, wait time.Duration) (Device, error) {
	var devs []Device
	op := func() error {
		var err error
		devs, err = sys.Cameras()
		if err != nil {
			return err
		}
		if len(devs) == 0 {
			return ErrNoCamera
		}
		return nil
	}

	var err error
	if wait > 0 {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     250 * time.Millisecond,
			RandomizationFactor: 0.2,
			Multiplier:          1.5,
			MaxInterval:         2 * time.Second,
			MaxElapsedTime:      wait,
			Clock:               backoff.SystemClock,
		}
		err = backoff.RetryNotify(op, b, func(err error, next time.Duration) {
			debug.Verbose("camera enumeration: %v, retrying in %v", err, next)
		})
	} else {
		err = op()
	}
	if err != nil && !errors.Is(err, ErrNoCamera) {
		return nil, fmt.Errorf("enumerate cameras: %w", err)
	}

	switch len(devs) {
	case 0:
		return nil, ErrNoCamera
	case 1:
		return devs[0], nil
	default:
		return nil, fmt.Errorf("%w: %d attached", ErrTooManyCameras, len(devs))
	}
}
