// Package capi exports the C ABI of the bridge.
//
// Build it into a shared library via the c-shared build mode:
//
//	go build -buildmode=c-shared -o libvecbridge.so ./cmd/vecbridge
//
// Every exported symbol follows the same conventions. Pointer-returning
// entry points signal failure by returning null; integer-returning entry
// points signal failure by returning -1. In either case the message is
// written to a thread-local slot readable via vecbridge_get_last_error on
// the calling thread. Closing entry points are infallible and null-safe.
//
// Handles are opaque uintptr tokens; zero is never a valid handle.
// Use-after-close and double-close are undefined behavior. Batches and
// schemas cross the boundary through the Arrow C Data Interface; ownership
// follows the interface's release-callback protocol.
package capi
