// Package camera is the boundary to a machine-vision camera driven through
// GenICam-style feature nodes. Backends (the Spinnaker SDK binding and an
// in-process simulator) implement Device; everything above this package
// talks to Device only.
package camera

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCamera is returned by OpenOne when enumeration finds no device.
	ErrNoCamera = errors.New("no camera detected")
	// ErrTooManyCameras is returned by OpenOne when more than one device is
	// attached. The tools measure a single camera and refuse to guess.
	ErrTooManyCameras = errors.New("more than one camera detected")
	// ErrIncomplete marks a fetched image the camera flagged as incomplete.
	ErrIncomplete = errors.New("image incomplete")
	// ErrNodeUnavailable is returned when a feature node does not exist or
	// is not available on the device.
	ErrNodeUnavailable = errors.New("feature node unavailable")
	// ErrNodeNotWritable is returned when a feature node refuses a write.
	ErrNodeNotWritable = errors.New("feature node not writable")
	// ErrNotInitialized is returned by operations that need Initialize first.
	ErrNotInitialized = errors.New("camera not initialized")
)

// Device is one attached camera.
//
// Configure writes a feature node by name. The dynamic type of value selects
// the node kind: string for an enumeration entry, bool for a boolean node,
// int for an integer node and float64 for a float node.
type Device interface {
	Initialize() error
	Deinitialize() error
	Configure(attribute string, value interface{}) error
	BeginAcquisition() error
	EndAcquisition() error
	// GetNextImage blocks until the next frame arrives or timeout elapses.
	GetNextImage(timeout time.Duration) (*Image, error)
	DeviceInfo() (map[string]string, error)
}

// System enumerates attached devices and owns the SDK instance.
type System interface {
	Cameras() ([]Device, error)
	Close() error
}

// Image is one fetched frame. Data is a copy owned by the caller; the
// backend buffer has already been released.
type Image struct {
	Complete     bool
	Status       ImageStatus
	StatusText   string
	Width        int
	Height       int
	BitsPerPixel int
	Data         []byte
}

// Err returns nil for a complete image and an error wrapping ErrIncomplete
// otherwise.
func (im *Image) Err() error {
	if im.Complete {
		return nil
	}
	return fmt.Errorf("%w: status %d (%s)", ErrIncomplete, int(im.Status), im.StatusText)
}

// ImageStatus mirrors the SDK image status codes.
type ImageStatus int

const (
	StatusNoError ImageStatus = iota
	StatusCRCCheckFailed
	StatusDataOverflow
	StatusMissingPackets
	StatusLeaderBufferSizeInconsistent
	StatusTrailerBufferSizeInconsistent
	StatusPacketIDInconsistent
	StatusMissingLeader
	StatusMissingTrailer
	StatusDataIncomplete
	StatusInfoInconsistent
	StatusChunkDataInvalid
	StatusNoSystemResources
)

var statusText = map[ImageStatus]string{
	StatusNoError:                       "no error",
	StatusCRCCheckFailed:                "CRC check failed",
	StatusDataOverflow:                  "data overflow",
	StatusMissingPackets:                "missing packets",
	StatusLeaderBufferSizeInconsistent:  "leader buffer size inconsistent",
	StatusTrailerBufferSizeInconsistent: "trailer buffer size inconsistent",
	StatusPacketIDInconsistent:          "packet id inconsistent",
	StatusMissingLeader:                 "missing leader",
	StatusMissingTrailer:                "missing trailer",
	StatusDataIncomplete:                "data incomplete",
	StatusInfoInconsistent:              "info inconsistent",
	StatusChunkDataInvalid:              "chunk data invalid",
	StatusNoSystemResources:             "no system resources",
}

func (s ImageStatus) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("status %d", int(s))
}

// Backend names accepted in the camera.type configuration key.
const (
	BackendSpinnaker = "spinnaker"
	BackendSimulated = "simulated"
)
