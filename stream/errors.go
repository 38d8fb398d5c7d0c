// File: stream/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNotConnected is returned by SocketStream once its socket is closed or
// was never connected. It matches unix.ENOTCONN with errors.Is.
var ErrNotConnected = fmt.Errorf("stream: %w", unix.ENOTCONN)
