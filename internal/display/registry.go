package display

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrUnknownHandle is returned when releasing a handle that is not live,
// either because it was never allocated or because it was already released.
var ErrUnknownHandle = errors.New("unknown display handle")

// HandlePrefix is the scheme every handle URL starts with
const HandlePrefix = "blob:mosaic/"

// Handle is an opaque, releasable reference to an image blob
type Handle string

// String returns the handle URL
func (h Handle) String() string { return string(h) }

// Allocator creates and releases display handles
type Allocator interface {
	Allocate(data []byte) Handle
	Release(h Handle) error
}

// Blob is the content behind a live handle
type Blob struct {
	Data     []byte
	MIMEType string
}

// Stats summarizes allocator activity
type Stats struct {
	Allocated uint64
	Released  uint64
	Live      int
}

// Registry is an in-memory Allocator
type Registry struct {
	mu        sync.RWMutex
	blobs     map[Handle]Blob
	allocated uint64
	released  uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{blobs: make(map[Handle]Blob)}
}

// Allocate registers data and returns a fresh handle for it
func (r *Registry) Allocate(data []byte) Handle {
	h := Handle(HandlePrefix + uuid.NewString())
	blob := Blob{Data: data, MIMEType: mimetype.Detect(data).String()}

	r.mu.Lock()
	r.blobs[h] = blob
	r.allocated++
	r.mu.Unlock()

	return h
}

// Release frees a handle. Releasing twice returns ErrUnknownHandle.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blobs[h]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	delete(r.blobs, h)
	r.released++
	return nil
}

// Resolve returns the blob behind a live handle
func (r *Registry) Resolve(h Handle) (Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blob, ok := r.blobs[h]
	return blob, ok
}

// Live returns the number of unreleased handles
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Stats returns allocation counters
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Allocated: r.allocated,
		Released:  r.released,
		Live:      len(r.blobs),
	}
}
