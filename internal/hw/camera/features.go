package camera

import (
	"fmt"
	"strings"

	"github.com/magis-lab/spintiming/internal/debug"
)

// Feature node names.
const (
	NodeAcquisitionMode = "AcquisitionMode"
	NodeExposureAuto    = "ExposureAuto"
	NodeExposureTime    = "ExposureTime"
	NodeAdcBitDepth     = "AdcBitDepth"
	NodeShutterMode     = "SensorShutterMode"
	NodePixelFormat     = "PixelFormat"
	NodeLineSelector    = "LineSelector"
	NodeLineMode        = "LineMode"
	NodeLineSource      = "LineSource"
)

// Exposure limits accepted by the sensor, in microseconds. Values at or
// beyond a limit are pulled one microsecond inside it.
const (
	MinExposureUs = 8
	MaxExposureUs = 30000000
)

// Acquisition modes.
const (
	AcquisitionSingleFrame = "SingleFrame"
	AcquisitionMultiFrame  = "MultiFrame"
	AcquisitionContinuous  = "Continuous"
)

// Shutter modes.
const (
	ShutterRolling     = "Rolling"
	ShutterGlobalReset = "GlobalReset"
)

// ClampExposure returns the exposure actually requested from the camera for
// a setting of us microseconds, and whether it had to be adjusted.
func ClampExposure(us float64) (float64, bool) {
	switch {
	case us >= MaxExposureUs:
		return MaxExposureUs - 1, true
	case us <= MinExposureUs:
		return MinExposureUs + 1, true
	}
	return us, false
}

// SetAcquisitionMode selects SingleFrame, MultiFrame or Continuous.
func SetAcquisitionMode(dev Device, mode string) error {
	m, ok := canonical(mode, AcquisitionSingleFrame, AcquisitionMultiFrame, AcquisitionContinuous)
	if !ok {
		return fmt.Errorf("invalid acquisition mode %q", mode)
	}
	return configure(dev, NodeAcquisitionMode, m)
}

// SetExposureTime turns automatic exposure off and writes the exposure time
// in microseconds, clamped by ClampExposure. It returns the value written
// and whether clamping happened.
func SetExposureTime(dev Device, us float64) (float64, bool, error) {
	if err := configure(dev, NodeExposureAuto, "Off"); err != nil {
		return 0, false, err
	}
	v, clamped := ClampExposure(us)
	if clamped {
		debug.Warn("exposure %.0fus outside (%d, %d), using %.0fus", us, MinExposureUs, MaxExposureUs, v)
	}
	if err := configure(dev, NodeExposureTime, v); err != nil {
		return 0, clamped, err
	}
	return v, clamped, nil
}

// SetADCBitDepth selects the sensor ADC depth: 10, 12 or 14 bits.
func SetADCBitDepth(dev Device, bits int) error {
	switch bits {
	case 10, 12, 14:
	default:
		return fmt.Errorf("invalid ADC bit depth %d (want 10, 12 or 14)", bits)
	}
	return configure(dev, NodeAdcBitDepth, fmt.Sprintf("Bit%d", bits))
}

// SetShutterMode selects Rolling or GlobalReset (case-insensitive).
func SetShutterMode(dev Device, mode string) error {
	m, ok := canonical(mode, ShutterRolling, ShutterGlobalReset)
	if !ok {
		return fmt.Errorf("invalid shutter mode %q (want %s or %s)", mode, ShutterRolling, ShutterGlobalReset)
	}
	return configure(dev, NodeShutterMode, m)
}

// SetPixelFormat selects Mono8 or Mono16.
func SetPixelFormat(dev Device, bits int) error {
	switch bits {
	case 8, 16:
	default:
		return fmt.Errorf("invalid pixel format %d (want 8 or 16)", bits)
	}
	return configure(dev, NodePixelFormat, fmt.Sprintf("Mono%d", bits))
}

// RouteExposureActive makes line output the camera's ExposureActive signal,
// which the edge watcher observes on a GPIO input.
func RouteExposureActive(dev Device, line string) error {
	if !strings.HasPrefix(line, "Line") {
		return fmt.Errorf("invalid output line %q", line)
	}
	if err := configure(dev, NodeLineSelector, line); err != nil {
		return err
	}
	if err := configure(dev, NodeLineMode, "Output"); err != nil {
		return err
	}
	return configure(dev, NodeLineSource, "ExposureActive")
}

func configure(dev Device, node string, value interface{}) error {
	if err := dev.Configure(node, value); err != nil {
		return fmt.Errorf("set %s=%v: %w", node, value, err)
	}
	debug.Feature(node, value)
	return nil
}

func canonical(s string, choices ...string) (string, bool) {
	for _, c := range choices {
		if strings.EqualFold(s, c) {
			return c, true
		}
	}
	return "", false
}
