package camera

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/magis-lab/spintiming/internal/clock"
	"github.com/magis-lab/spintiming/internal/debug"
	"github.com/magis-lab/spintiming/internal/hw/gpio"
)

// LineDriver is what the simulator needs to drive its exposure-active
// output; gpio.MockDriver implements it.
type LineDriver interface {
	SetLevel(pin int, level gpio.Level)
}

// SimConfig configures a Simulated camera.
type SimConfig struct {
	// Line and Pin are the GPIO input the camera output is wired to. A nil
	// Line leaves the output unconnected.
	Line   LineDriver
	Pin    int
	Active gpio.Level

	// WiredLine is the camera output line connected to Pin. Only when this
	// line is routed to ExposureActive does the simulator drive the pin.
	WiredLine string

	// TriggerLatency is the delay between the fetch call and exposure start.
	TriggerLatency time.Duration

	// Clock, when set, is advanced by TriggerLatency instead of sleeping,
	// which makes the measured delay exact.
	Clock *clock.Manual

	Width, Height int
	Serial        string
}

var simEnums = map[string][]string{
	NodeAcquisitionMode: {AcquisitionSingleFrame, AcquisitionMultiFrame, AcquisitionContinuous},
	NodeExposureAuto:    {"Off", "Once", "Continuous"},
	NodeAdcBitDepth:     {"Bit10", "Bit12", "Bit14"},
	NodeShutterMode:     {ShutterRolling, ShutterGlobalReset},
	NodePixelFormat:     {"Mono8", "Mono16"},
	NodeLineSelector:    {"Line0", "Line1", "Line2", "Line3"},
	NodeLineMode:        {"Input", "Output"},
	NodeLineSource:      {"Off", "ExposureActive", "FrameTriggerWait", "ExposureAlternateActive"},
}

// Simulated is an in-process camera. It keeps its feature nodes in memory,
// exposes for the configured time and drives its exposure-active line like
// the real sensor. Frames can be scripted to arrive incomplete or without
// line activity, and nodes can be made to reject writes.
type Simulated struct {
	cfg SimConfig

	mu          sync.Mutex
	nodes       map[string]string
	exposureUs  float64
	lines       map[string][2]string // mode, source
	initialized bool
	acquiring   bool
	delivered   bool
	frames      int
	inits       int

	incomplete map[int]bool
	silent     map[int]bool
	reject     map[string]bool
}

// NewSimulated returns a camera with factory defaults: continuous
// acquisition, automatic exposure, Mono8, rolling shutter.
func NewSimulated(cfg SimConfig) *Simulated {
	if cfg.WiredLine == "" {
		cfg.WiredLine = "Line1"
	}
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	if cfg.Serial == "" {
		cfg.Serial = "00000000"
	}
	s := &Simulated{
		cfg: cfg,
		nodes: map[string]string{
			NodeAcquisitionMode: AcquisitionContinuous,
			NodeExposureAuto:    "Continuous",
			NodeAdcBitDepth:     "Bit10",
			NodeShutterMode:     ShutterRolling,
			NodePixelFormat:     "Mono8",
			NodeLineSelector:    "Line0",
		},
		exposureUs: 5000,
		lines:      map[string][2]string{},
		incomplete: map[int]bool{},
		silent:     map[int]bool{},
		reject:     map[string]bool{},
	}
	s.setLine(false)
	return s
}

// FailFrame makes the n-th fetched frame (1-based, counted over the
// device lifetime) arrive incomplete.
func (s *Simulated) FailFrame(n int) {
	s.mu.Lock()
	s.incomplete[n] = true
	s.mu.Unlock()
}

// SilenceFrame suppresses line activity for the n-th fetched frame.
func (s *Simulated) SilenceFrame(n int) {
	s.mu.Lock()
	s.silent[n] = true
	s.mu.Unlock()
}

// Reject makes writes to attribute fail with ErrNodeNotWritable.
func (s *Simulated) Reject(attribute string) {
	s.mu.Lock()
	s.reject[attribute] = true
	s.mu.Unlock()
}

// Node returns the current value of an enumeration node, or of
// ExposureTime formatted in microseconds.
func (s *Simulated) Node(attribute string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attribute == NodeExposureTime {
		return fmt.Sprintf("%g", s.exposureUs), true
	}
	v, ok := s.nodes[attribute]
	return v, ok
}

// Frames returns how many fetches were served.
func (s *Simulated) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Inits returns how many times the device was initialized.
func (s *Simulated) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

// Initialized reports whether the device is between Initialize and
// Deinitialize.
func (s *Simulated) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Simulated) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return fmt.Errorf("simulated camera %s already initialized", s.cfg.Serial)
	}
	s.initialized = true
	s.inits++
	return nil
}

func (s *Simulated) Deinitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.initialized = false
	s.acquiring = false
	return nil
}

func (s *Simulated) Configure(attribute string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.reject[attribute] {
		return fmt.Errorf("%w: %s", ErrNodeNotWritable, attribute)
	}

	if attribute == NodeExposureTime {
		us, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%s is a float node, got %T", attribute, value)
		}
		if s.nodes[NodeExposureAuto] != "Off" {
			return fmt.Errorf("%w: %s while ExposureAuto=%s", ErrNodeNotWritable, attribute, s.nodes[NodeExposureAuto])
		}
		if us < MinExposureUs || us >= MaxExposureUs {
			return fmt.Errorf("%w: %s=%g out of range", ErrNodeNotWritable, attribute, us)
		}
		s.exposureUs = us
		return nil
	}

	entries, ok := simEnums[attribute]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeUnavailable, attribute)
	}
	entry, ok := value.(string)
	if !ok {
		return fmt.Errorf("%s is an enumeration node, got %T", attribute, value)
	}
	if !contains(entries, entry) {
		return fmt.Errorf("%w: %s has no entry %q", ErrNodeUnavailable, attribute, entry)
	}
	if s.acquiring && (attribute == NodePixelFormat || attribute == NodeAdcBitDepth) {
		return fmt.Errorf("%w: %s during acquisition", ErrNodeNotWritable, attribute)
	}

	switch attribute {
	case NodeLineMode:
		l := s.lines[s.nodes[NodeLineSelector]]
		l[0] = entry
		s.lines[s.nodes[NodeLineSelector]] = l
	case NodeLineSource:
		l := s.lines[s.nodes[NodeLineSelector]]
		l[1] = entry
		s.lines[s.nodes[NodeLineSelector]] = l
	default:
		s.nodes[attribute] = entry
	}
	return nil
}

func (s *Simulated) BeginAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.acquiring {
		return fmt.Errorf("simulated camera %s already acquiring", s.cfg.Serial)
	}
	s.acquiring = true
	s.delivered = false
	return nil
}

func (s *Simulated) EndAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquiring {
		return fmt.Errorf("simulated camera %s not acquiring", s.cfg.Serial)
	}
	s.acquiring = false
	return nil
}

func (s *Simulated) GetNextImage(timeout time.Duration) (*Image, error) {
	s.mu.Lock()
	if !s.acquiring {
		s.mu.Unlock()
		return nil, fmt.Errorf("simulated camera %s: GetNextImage outside acquisition", s.cfg.Serial)
	}
	single := s.nodes[NodeAcquisitionMode] == AcquisitionSingleFrame
	if single && s.delivered {
		s.mu.Unlock()
		time.Sleep(timeout)
		return nil, fmt.Errorf("no image within %v", timeout)
	}
	exposure := time.Duration(s.exposureUs * float64(time.Microsecond))
	if s.cfg.TriggerLatency+exposure > timeout {
		s.mu.Unlock()
		time.Sleep(timeout)
		return nil, fmt.Errorf("no image within %v", timeout)
	}
	s.frames++
	n := s.frames
	s.delivered = true
	line := s.lines[s.cfg.WiredLine]
	drive := line[0] == "Output" && line[1] == "ExposureActive" && !s.silent[n]
	incomplete := s.incomplete[n]
	bits := 8
	if s.nodes[NodePixelFormat] == "Mono16" {
		bits = 16
	}
	s.mu.Unlock()

	if s.cfg.Clock != nil {
		s.cfg.Clock.Advance(clock.FromDuration(s.cfg.Clock, s.cfg.TriggerLatency))
	} else if s.cfg.TriggerLatency > 0 {
		time.Sleep(s.cfg.TriggerLatency)
	}
	if drive {
		s.setLine(true)
	}
	time.Sleep(exposure)
	if drive {
		s.setLine(false)
	}
	debug.Trace("simulated frame %d exposed %v (line driven: %v)", n, exposure, drive)

	im := &Image{
		Complete:     !incomplete,
		Status:       StatusNoError,
		Width:        s.cfg.Width,
		Height:       s.cfg.Height,
		BitsPerPixel: bits,
		Data:         rampFrame(s.cfg.Width, s.cfg.Height, bits),
	}
	if incomplete {
		im.Status = StatusMissingPackets
	}
	im.StatusText = im.Status.String()
	return im, nil
}

func (s *Simulated) DeviceInfo() (map[string]string, error) {
	return map[string]string{
		"DeviceVendorName":   "FLIR",
		"DeviceModelName":    "Blackfly S (simulated)",
		"DeviceSerialNumber": s.cfg.Serial,
	}, nil
}

func (s *Simulated) setLine(active bool) {
	if s.cfg.Line == nil {
		return
	}
	l := !s.cfg.Active
	if active {
		l = s.cfg.Active
	}
	s.cfg.Line.SetLevel(s.cfg.Pin, l)
}

func rampFrame(w, h, bits int) []byte {
	n := w * h
	if bits == 8 {
		out := make([]byte, n)
		for i := range out {
			out[i] = byte(i)
		}
		return out
	}
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(i*16))
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SimSystem is a System over a fixed set of devices.
type SimSystem struct {
	Devices []Device

	mu     sync.Mutex
	closed bool
}

func (s *SimSystem) Cameras() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("camera system closed")
	}
	out := make([]Device, len(s.Devices))
	copy(out, s.Devices)
	return out, nil
}

func (s *SimSystem) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
