package engine

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

// BufferInfo describes one registered buffer.
type BufferInfo struct {
	Key         string
	Size        int
	StoredSize  int
	Fingerprint uint64
}

type bufferEntry struct {
	info       BufferInfo
	data       []byte
	compressed bool
}

// Registry is the buffer namespace of a handle. Keys are append-only and
// unique; a buffer is kept until the handle closes.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*bufferEntry
	order    []string
	compress bool
}

// NewRegistry creates an empty registry. With compress set, buffers are
// held snappy-encoded and decoded on every read.
func NewRegistry(compress bool) *Registry {
	return &Registry{
		entries:  make(map[string]*bufferEntry),
		compress: compress,
	}
}

// Register stores data under key. The caller must not modify data afterwards.
func (r *Registry) Register(key string, data []byte) (BufferInfo, error) {
	if key == "" {
		return BufferInfo{}, taxierrors.NewValidationError(taxierrors.CodeInvalidIdentifier, "empty buffer key")
	}

	entry := &bufferEntry{
		info: BufferInfo{
			Key:         key,
			Size:        len(data),
			Fingerprint: murmur3.Sum64(data),
		},
		data: data,
	}
	if r.compress {
		entry.data = snappy.Encode(nil, data)
		entry.compressed = true
	}
	entry.info.StoredSize = len(entry.data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		return BufferInfo{}, taxierrors.NewEngineError(taxierrors.CodeDuplicateRegistration,
			fmt.Sprintf("buffer key %s already registered", key), nil)
	}
	r.entries[key] = entry
	r.order = append(r.order, key)
	return entry.info, nil
}

// Unregister drops keys that were never materialized into a table. Unknown
// keys are ignored.
func (r *Registry) Unregister(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := r.entries[k]; ok {
			delete(r.entries, k)
			drop[k] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := r.order[:0]
	for _, k := range r.order {
		if _, ok := drop[k]; !ok {
			kept = append(kept, k)
		}
	}
	r.order = kept
}

// Get returns the original bytes registered under key.
func (r *Registry) Get(key string) ([]byte, error) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, taxierrors.NewEngineError(taxierrors.CodeBufferNotFound,
			fmt.Sprintf("buffer key %s is not registered", key), nil)
	}

	if !entry.compressed {
		return entry.data, nil
	}
	data, err := snappy.Decode(nil, entry.data)
	if err != nil {
		return nil, taxierrors.NewEngineError(taxierrors.CodeDecodeFailed,
			fmt.Sprintf("buffer %s: snappy decode", key), err)
	}
	return data, nil
}

// Info returns the metadata of a registered buffer.
func (r *Registry) Info(key string) (BufferInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	if !ok {
		return BufferInfo{}, false
	}
	return entry.info, true
}

// Keys returns registered keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

// StoredBytes returns the bytes held by the registry.
func (r *Registry) StoredBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, e := range r.entries {
		n += int64(len(e.data))
	}
	return n
}

// Reset drops every buffer.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*bufferEntry)
	r.order = nil
}
