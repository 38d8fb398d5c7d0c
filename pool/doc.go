// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides object and buffer pooling for hioload-fiber: a
// generic SyncPool and a fixed-size BytePool shared by the serialization buffer and the
// reactor's readiness batches.
package pool
