package rig

import (
	"errors"
	"testing"
	"time"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/config"
	"github.com/magis-lab/spintiming/internal/hw/camera"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
)

func simConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Camera.Type = "simulated"
	cfg.Camera.ExposureLine = "Line1"
	cfg.Camera.Simulated.Serial = "SIM1"
	cfg.GPIO.Backend = gpio.BackendMock
	cfg.GPIO.ExposurePin = 23
	cfg.Relay.OffMs = 5
	cfg.Relay.BootDelayMs = 3000
	return cfg
}

func TestOpenGPIO_SimulatedNeedsMock(t *testing.T) {
	cfg := simConfig()
	cfg.GPIO.Backend = gpio.BackendRPIO
	if _, err := OpenGPIO(cfg, Options{}); err == nil {
		t.Fatal("expected an error for a simulated camera on real GPIO")
	}
}

func TestOpenGPIO_MockBackend(t *testing.T) {
	r, err := OpenGPIO(simConfig(), Options{})
	if err != nil {
		t.Fatalf("OpenGPIO: %v", err)
	}
	defer r.Close()
	if _, ok := r.GPIO.(*gpio.MockDriver); !ok {
		t.Errorf("GPIO = %T, want *gpio.MockDriver", r.GPIO)
	}
	if _, ok := r.Clock.(*clock.Monotonic); !ok {
		t.Errorf("Clock = %T, want *clock.Monotonic", r.Clock)
	}
	if r.Relay != nil {
		t.Error("relay set up without relay.pin")
	}
}

func TestOpenGPIO_RelayPowerOn(t *testing.T) {
	cfg := simConfig()
	cfg.Relay.Pin = 24
	drv := gpio.NewMockDriver()
	var slept []time.Duration
	r, err := OpenGPIO(cfg, Options{GPIO: drv, Sleep: func(d time.Duration) { slept = append(slept, d) }})
	if err != nil {
		t.Fatalf("OpenGPIO: %v", err)
	}
	if r.Relay == nil {
		t.Fatal("relay not set up")
	}
	if l, _ := drv.ReadPin(24); l != gpio.High {
		t.Errorf("relay pin = %v, want HIGH (camera powered)", l)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Errorf("boot waits = %v, want [3s]", slept)
	}
}

func TestOpenGPIO_RelayPowerCycleActiveLow(t *testing.T) {
	cfg := simConfig()
	cfg.Relay.Pin = 24
	cfg.Relay.ActiveLow = true
	cfg.Relay.PowerCycle = true
	drv := gpio.NewMockDriver()
	if _, err := OpenGPIO(cfg, Options{GPIO: drv, Sleep: func(time.Duration) {}}); err != nil {
		t.Fatalf("OpenGPIO: %v", err)
	}
	if l, _ := drv.ReadPin(24); l != gpio.Low {
		t.Errorf("active-low relay pin = %v after power cycle, want LOW", l)
	}
}

func TestOpenCamera_Simulated(t *testing.T) {
	cfg := simConfig()
	drv := gpio.NewMockDriver()
	drv.SetLevel(23, gpio.High)
	r, err := OpenGPIO(cfg, Options{GPIO: drv})
	if err != nil {
		t.Fatalf("OpenGPIO: %v", err)
	}
	defer r.Close()
	if err := r.OpenCamera(cfg); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	info, err := r.Camera.DeviceInfo()
	if err != nil || info["DeviceSerialNumber"] != "SIM1" {
		t.Errorf("DeviceInfo = %v, %v", info, err)
	}
	// The simulated camera parks its line inactive.
	if l, _ := drv.ReadPin(23); l != gpio.Low {
		t.Errorf("exposure pin = %v, want LOW", l)
	}
}

func TestOpenCamera_ActiveLowParksHigh(t *testing.T) {
	cfg := simConfig()
	cfg.GPIO.ActiveLow = true
	drv := gpio.NewMockDriver()
	r, _ := OpenGPIO(cfg, Options{GPIO: drv})
	defer r.Close()
	if err := r.OpenCamera(cfg); err != nil {
		t.Fatalf("OpenCamera: %v", err)
	}
	if l, _ := drv.ReadPin(23); l != gpio.High {
		t.Errorf("exposure pin = %v, want HIGH", l)
	}
}

// plainDriver is a GPIO driver that cannot carry a simulated line.
type plainDriver struct{}

func (plainDriver) SetupPin(int, gpio.PinMode) error { return nil }
func (plainDriver) WritePin(int, gpio.Level) error { return nil }
func (plainDriver) ReadPin(int) (gpio.Level, error) { return gpio.Low, nil }
func (plainDriver) Close() error { return nil }

func TestOpenCamera_SimulatedWithoutLineDriver(t *testing.T) {
	cfg := simConfig()
	r, _ := OpenGPIO(cfg, Options{GPIO: plainDriver{}})
	if err := r.OpenCamera(cfg); err == nil {
		t.Error("expected an error without a line-capable driver")
	}
}

func TestOpenCamera_SpinnakerUnavailable(t *testing.T) {
	if camera.SpinnakerAvailable {
		t.Skip("built with the Spinnaker SDK")
	}
	cfg := simConfig()
	cfg.Camera.Type = "spinnaker"
	r, _ := OpenGPIO(cfg, Options{GPIO: gpio.NewMockDriver()})
	err := r.OpenCamera(cfg)
	if err == nil || errors.Is(err, camera.ErrNoCamera) {
		t.Errorf("err = %v, want an SDK availability error", err)
	}
}

func TestOpenCamera_InjectedSystem(t *testing.T) {
	cfg := simConfig()
	drv := gpio.NewMockDriver()
	one := camera.NewSimulated(camera.SimConfig{Line: drv, Pin: 23, Serial: "A"})
	two := camera.NewSimulated(camera.SimConfig{Line: drv, Pin: 23, Serial: "B"})
	cases := []struct {
		name    string
		devices []camera.Device
		want    error
	}{
		{"none", nil, camera.ErrNoCamera},
		{"two", []camera.Device{one, two}, camera.ErrTooManyCameras},
		{"one", []camera.Device{one}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := OpenGPIO(cfg, Options{GPIO: gpio.NewMockDriver(), System: &camera.SimSystem{Devices: tc.devices}})
			if err != nil {
				t.Fatalf("OpenGPIO: %v", err)
			}
			defer r.Close()
			err = r.OpenCamera(cfg)
			if tc.want == nil {
				if err != nil || r.Camera != one {
					t.Errorf("OpenCamera = %v, camera %v", err, r.Camera)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("OpenCamera err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestActiveLevel(t *testing.T) {
	cfg := simConfig()
	if ActiveLevel(cfg) != gpio.High {
		t.Error("active-high line should be active on HIGH")
	}
	cfg.GPIO.ActiveLow = true
	if ActiveLevel(cfg) != gpio.Low {
		t.Error("active-low line should be active on LOW")
	}
}

func TestLockMemory(t *testing.T) {
	// Unprivileged runs may be refused; the call must not panic either way.
	if err := LockMemory(); err != nil {
		t.Skipf("LockMemory: %v", err)
	}
	if err := UnlockMemory(); err != nil {
		t.Errorf("UnlockMemory: %v", err)
	}
}
