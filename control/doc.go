// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control holds runtime configuration, metrics and debug
// introspection for hioload-fiber.
//
// It provides concurrent-safe state handling primitives including:
//   - Typed config reads with defaults and reload listeners
//   - A metrics registry that schedulers and IO managers publish into
//   - Named debug probes
package control
