//go:build spinnaker

package camera

/*
#cgo CFLAGS: -I/opt/spinnaker/include/spinc -I/usr/include/spinnaker/spinc
#cgo LDFLAGS: -L/opt/spinnaker/lib -lSpinnaker_C
#include <stdlib.h>
#include "SpinnakerC.h"
*/
import "C"
import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// SpinnakerAvailable reports whether the binary was built with the SDK.
const SpinnakerAvailable = true

const nodeStringLen = 256

// SpinError is a non-success code returned by the Spinnaker C API.
type SpinError struct {
	Code int
	Call string
}

func (e SpinError) Error() string {
	return fmt.Sprintf("%s: spinnaker error %d", e.Call, e.Code)
}

func check(code C.spinError, call string) error {
	if code == C.SPINNAKER_ERR_SUCCESS {
		return nil
	}
	return SpinError{Code: int(code), Call: call}
}

type spinSystem struct {
	mu     sync.Mutex
	h      C.spinSystem
	list   C.spinCameraList
	listed bool
	cams   []*spinCamera
}

// OpenSpinnaker acquires the SDK system instance.
func OpenSpinnaker() (System, error) {
	s := &spinSystem{}
	if err := check(C.spinSystemGetInstance(&s.h), "spinSystemGetInstance"); err != nil {
		return nil, err
	}
	if err := check(C.spinCameraListCreateEmpty(&s.list), "spinCameraListCreateEmpty"); err != nil {
		C.spinSystemReleaseInstance(s.h)
		return nil, err
	}
	return s, nil
}

func (s *spinSystem) Cameras() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCameras()
	if err := check(C.spinSystemGetCameras(s.h, s.list), "spinSystemGetCameras"); err != nil {
		return nil, err
	}
	s.listed = true
	var n C.size_t
	if err := check(C.spinCameraListGetSize(s.list, &n), "spinCameraListGetSize"); err != nil {
		return nil, err
	}
	out := make([]Device, 0, int(n))
	for i := C.size_t(0); i < n; i++ {
		c := &spinCamera{}
		if err := check(C.spinCameraListGet(s.list, i, &c.h), "spinCameraListGet"); err != nil {
			return nil, err
		}
		s.cams = append(s.cams, c)
		out = append(out, c)
	}
	return out, nil
}

func (s *spinSystem) releaseCameras() {
	for _, c := range s.cams {
		C.spinCameraRelease(c.h)
	}
	s.cams = nil
	if s.listed {
		C.spinCameraListClear(s.list)
		s.listed = false
	}
}

// Close releases every camera handle, the camera list and the system
// instance, in the order the SDK requires.
func (s *spinSystem) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCameras()
	if err := check(C.spinCameraListDestroy(s.list), "spinCameraListDestroy"); err != nil {
		return err
	}
	return check(C.spinSystemReleaseInstance(s.h), "spinSystemReleaseInstance")
}

type spinCamera struct {
	h     C.spinCamera
	nodes C.spinNodeMapHandle
}

func (c *spinCamera) Initialize() error {
	if err := check(C.spinCameraInit(c.h), "spinCameraInit"); err != nil {
		return err
	}
	return check(C.spinCameraGetNodeMap(c.h, &c.nodes), "spinCameraGetNodeMap")
}

func (c *spinCamera) Deinitialize() error {
	c.nodes = nil
	return check(C.spinCameraDeInit(c.h), "spinCameraDeInit")
}

func (c *spinCamera) node(m C.spinNodeMapHandle, name string, write bool) (C.spinNodeHandle, error) {
	if m == nil {
		return nil, ErrNotInitialized
	}
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	var h C.spinNodeHandle
	if err := check(C.spinNodeMapGetNode(m, cs, &h), "spinNodeMapGetNode"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNodeUnavailable, name, err)
	}
	var ok C.bool8_t
	if err := check(C.spinNodeIsAvailable(h, &ok), "spinNodeIsAvailable"); err != nil || ok == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNodeUnavailable, name)
	}
	if write {
		if err := check(C.spinNodeIsWritable(h, &ok), "spinNodeIsWritable"); err != nil || ok == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotWritable, name)
		}
	} else {
		if err := check(C.spinNodeIsReadable(h, &ok), "spinNodeIsReadable"); err != nil || ok == 0 {
			return nil, fmt.Errorf("%w: %s not readable", ErrNodeUnavailable, name)
		}
	}
	return h, nil
}

func (c *spinCamera) Configure(attribute string, value interface{}) error {
	h, err := c.node(c.nodes, attribute, true)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case string:
		cs := C.CString(v)
		defer C.free(unsafe.Pointer(cs))
		var entry C.spinNodeHandle
		if err := check(C.spinEnumerationGetEntryByName(h, cs, &entry), "spinEnumerationGetEntryByName"); err != nil {
			return fmt.Errorf("%w: %s has no entry %q", ErrNodeUnavailable, attribute, v)
		}
		var iv C.int64_t
		if err := check(C.spinEnumerationEntryGetIntValue(entry, &iv), "spinEnumerationEntryGetIntValue"); err != nil {
			return err
		}
		return check(C.spinEnumerationSetIntValue(h, iv), "spinEnumerationSetIntValue")
	case bool:
		var b C.bool8_t
		if v {
			b = 1
		}
		return check(C.spinBooleanSetValue(h, b), "spinBooleanSetValue")
	case int:
		return check(C.spinIntegerSetValue(h, C.int64_t(v)), "spinIntegerSetValue")
	case float64:
		return check(C.spinFloatSetValue(h, C.double(v)), "spinFloatSetValue")
	default:
		return fmt.Errorf("unsupported value type %T for %s", value, attribute)
	}
}

func (c *spinCamera) BeginAcquisition() error {
	return check(C.spinCameraBeginAcquisition(c.h), "spinCameraBeginAcquisition")
}

func (c *spinCamera) EndAcquisition() error {
	return check(C.spinCameraEndAcquisition(c.h), "spinCameraEndAcquisition")
}

// GetNextImage copies the frame out of the SDK buffer and releases it
// before returning.
func (c *spinCamera) GetNextImage(timeout time.Duration) (*Image, error) {
	var h C.spinImage
	ms := C.uint64_t(timeout / time.Millisecond)
	if err := check(C.spinCameraGetNextImageEx(c.h, ms, &h), "spinCameraGetNextImageEx"); err != nil {
		return nil, err
	}
	defer C.spinImageRelease(h)

	im := &Image{Complete: true}
	var incomplete C.bool8_t
	if err := check(C.spinImageIsIncomplete(h, &incomplete), "spinImageIsIncomplete"); err != nil {
		return nil, err
	}
	if incomplete != 0 {
		im.Complete = false
		var st C.spinImageStatus
		if err := check(C.spinImageGetStatus(h, &st), "spinImageGetStatus"); err != nil {
			return nil, err
		}
		im.Status = ImageStatus(st)
		buf := make([]byte, nodeStringLen)
		n := C.size_t(len(buf))
		if check(C.spinImageGetStatusDescription(st, (*C.char)(unsafe.Pointer(&buf[0])), &n), "spinImageGetStatusDescription") == nil {
			im.StatusText = C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
		} else {
			im.StatusText = im.Status.String()
		}
		return im, nil
	}

	var w, ht, bpp, size C.size_t
	if err := check(C.spinImageGetWidth(h, &w), "spinImageGetWidth"); err != nil {
		return nil, err
	}
	if err := check(C.spinImageGetHeight(h, &ht), "spinImageGetHeight"); err != nil {
		return nil, err
	}
	if err := check(C.spinImageGetBitsPerPixel(h, &bpp), "spinImageGetBitsPerPixel"); err != nil {
		return nil, err
	}
	if err := check(C.spinImageGetBufferSize(h, &size), "spinImageGetBufferSize"); err != nil {
		return nil, err
	}
	var data unsafe.Pointer
	if err := check(C.spinImageGetData(h, &data), "spinImageGetData"); err != nil {
		return nil, err
	}
	im.Width, im.Height, im.BitsPerPixel = int(w), int(ht), int(bpp)
	im.Data = C.GoBytes(data, C.int(size))
	im.StatusText = im.Status.String()
	return im, nil
}

var deviceInfoNodes = []string{
	"DeviceVendorName",
	"DeviceModelName",
	"DeviceSerialNumber",
	"DeviceVersion",
	"DeviceFirmwareVersion",
}

// DeviceInfo reads the transport-layer device nodes; it works before
// Initialize.
func (c *spinCamera) DeviceInfo() (map[string]string, error) {
	var m C.spinNodeMapHandle
	if err := check(C.spinCameraGetTLDeviceNodeMap(c.h, &m), "spinCameraGetTLDeviceNodeMap"); err != nil {
		return nil, err
	}
	info := map[string]string{}
	buf := make([]byte, nodeStringLen)
	for _, name := range deviceInfoNodes {
		h, err := c.node(m, name, false)
		if err != nil {
			continue
		}
		n := C.size_t(len(buf))
		if check(C.spinNodeToString(h, (*C.char)(unsafe.Pointer(&buf[0])), &n), "spinNodeToString") != nil {
			continue
		}
		info[name] = C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
	}
	return info, nil
}
