//go:build !linux

package rig

import "errors"

// LockMemory is only supported on Linux.
func LockMemory() error {
	return errors.New("memory locking is only supported on Linux")
}

// UnlockMemory is a no-op outside Linux.
func UnlockMemory() error { return nil }
