// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the IO manager: a fiber scheduler whose idle
// workers wait on an edge-triggered readiness poller and a timer heap, and
// resubmit the fibers and callbacks registered for ready descriptors.
package reactor
