// Package display manages ephemeral display handles for image blobs.
//
// A handle lets a frontend render an uploaded image without re-transmitting
// its bytes (object-URL semantics). Handles are scarce: every Allocate must be
// paired with exactly one Release. The Registry never frees a handle on its
// own; whoever allocated it owns the release.
//
// Example Usage:
//
//	reg := display.NewRegistry()
//	h := reg.Allocate(data)
//	defer reg.Release(h)
//	blob, ok := reg.Resolve(h)
package display
