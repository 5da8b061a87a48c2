package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/magis-lab/spintiming/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "1"
	}
	return "0"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Pull selects the bias resistor of an input pin.
type Pull int

const (
	PullNoChange Pull = iota // keep whatever the pin has
	PullOff
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullOff:
		return "off"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	}
	return "unchanged"
}

// ParsePull maps a config value ("", "off", "up", "down") to a Pull.
func ParsePull(s string) (Pull, error) {
	switch s {
	case "":
		return PullNoChange, nil
	case "off":
		return PullOff, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	}
	return PullNoChange, fmt.Errorf("unknown pull %q (want off, up or down)", s)
}

// Biaser is implemented by drivers that can set the pull resistor of an
// input. Opto-isolated camera outputs are open collector and need a pull-up
// to read anything but low.
type Biaser interface {
	SetPull(pin int, pull Pull) error
}

// ApplyPull sets pull on an input pin. A driver that is not a Biaser only
// gets a warning: the line may still be driven push-pull.
func ApplyPull(drv Driver, pin int, pull Pull) error {
	if pull == PullNoChange {
		return nil
	}
	b, ok := drv.(Biaser)
	if !ok {
		debug.Warn("GPIO driver %T cannot set pull %s on pin %d", drv, pull, pin)
		return nil
	}
	if err := b.SetPull(pin, pull); err != nil {
		return fmt.Errorf("set pull %s on pin %d: %w", pull, pin, err)
	}
	return nil
}

// Backend names accepted by NewDriver.
const (
	BackendMock   = "mock"
	BackendRPIO   = "rpio"
	BackendPeriph = "periph"
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// EdgeWaiter is implemented by drivers that can sleep on a hardware edge
// interrupt instead of polling.
//
// WaitForEdge returns true as soon as the pin reads level, including when it
// already does on entry. It returns false when timeout elapses first.
type EdgeWaiter interface {
	WaitForEdge(pin int, level Level, timeout time.Duration) (bool, error)
}

// NewDriver creates a GPIO driver for the named backend.
func NewDriver(backend string) (Driver, error) {
	switch backend {
	case BackendMock:
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case BackendRPIO, "":
		return NewRPiRealDriver()
	case BackendPeriph:
		return NewPeriphDriver()
	default:
		return nil, fmt.Errorf("unknown gpio backend: %q", backend)
	}
}

// MockDriver keeps pin levels in memory. Used for development on PC, for
// the simulated camera (which drives its exposure-active line through
// SetLevel) and for tests. It is safe for concurrent use.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	modes  map[int]PinMode
	pulls  map[int]Pull
	closed bool
}

// NewMockDriver returns a MockDriver with every pin low.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels: make(map[int]Level),
		modes:  make(map[int]PinMode),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modes == nil {
		m.modes = make(map[int]PinMode)
	}
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.SetLevel(pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Low, fmt.Errorf("gpio: mock driver closed")
	}
	return m.levels[pin], nil
}

// SetLevel sets the level seen by ReadPin, as if driven by external hardware.
func (m *MockDriver) SetLevel(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
}

// SetPull records pull. It does not change the level seen by ReadPin.
func (m *MockDriver) SetPull(pin int, pull Pull) error {
	debug.GPIO("SetPull", pin, pull)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pulls == nil {
		m.pulls = make(map[int]Pull)
	}
	m.pulls[pin] = pull
	return nil
}

// PullOf returns the pull last set on pin.
func (m *MockDriver) PullOf(pin int) Pull {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulls[pin]
}

// Mode returns the mode a pin was last set up with.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
