// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package affinity pins scheduler workers to CPUs. Platform-specific
// implementations live in files guarded by build tags.
package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and restricts that thread
// to cpu. On failure the goroutine is unlocked again.
func Pin(cpu int) error {
	runtime.LockOSThread()
	if err := setAffinity(cpu); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

// Unpin gives the thread of the calling goroutine back every CPU the process
// started with and unlocks it. It must follow a successful Pin.
func Unpin() error {
	err := resetAffinity()
	runtime.UnlockOSThread()
	return err
}

// CPUFor maps a worker index onto the CPUs available to the process, wrapping
// around when there are more workers than CPUs.
func CPUFor(worker int) int {
	cpus := processCPUs()
	if len(cpus) == 0 {
		return worker % runtime.NumCPU()
	}
	return cpus[worker%len(cpus)]
}
