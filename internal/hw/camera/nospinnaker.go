//go:build !spinnaker

package camera

import "errors"

// SpinnakerAvailable reports whether the binary was built with the SDK.
const SpinnakerAvailable = false

// OpenSpinnaker fails in builds without the Spinnaker SDK. Rebuild with
// -tags spinnaker on a host where libSpinnaker_C is installed.
func OpenSpinnaker() (System, error) {
	return nil, errors.New("built without Spinnaker support (rebuild with -tags spinnaker)")
}
