//go:build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import "github.com/momentics/hioload-fiber/api"

func setAffinity(int) error { return api.ErrNotSupported }
func resetAffinity() error { return api.ErrNotSupported }
func processCPUs() []int { return nil }

// Allowed is not supported on this platform.
func Allowed() ([]int, error) { return nil, api.ErrNotSupported }
