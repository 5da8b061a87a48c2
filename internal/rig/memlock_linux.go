package rig

import "golang.org/x/sys/unix"

// LockMemory locks current and future pages of the process in RAM, so a
// page fault cannot stall the exposure line poll. It needs CAP_IPC_LOCK.
func LockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

// UnlockMemory undoes LockMemory.
func UnlockMemory() error {
	return unix.Munlockall()
}
