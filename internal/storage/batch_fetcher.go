package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchFetcher fetches several objects into memory in parallel.
// Fetch returns only after every attempt has finished, successful or not.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult contains the outcome of a batch fetch. Each requested path
// appears in exactly one of Buffers or Errors.
type BatchResult struct {
	Buffers map[string][]byte
	Errors  map[string]error
	Fetched int
	Bytes   int64
}

// NewBatchFetcher creates a new batch fetcher.
// concurrency is the maximum number of parallel fetches (<= 0 means 1).
func NewBatchFetcher(storage ObjectStorage, concurrency int) *BatchFetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchFetcher{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Fetch retrieves all objectPaths. Per-object failures land in
// BatchResult.Errors; the returned error is reserved for invalid input.
func (b *BatchFetcher) Fetch(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		Buffers: make(map[string][]byte, len(objectPaths)),
		Errors:  make(map[string]error),
	}

	seen := make(map[string]struct{}, len(objectPaths))
	for _, p := range objectPaths {
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("duplicate object path %q in batch", p)
		}
		seen[p] = struct{}{}
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.storage.Fetch(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[path] = err
				return
			}
			result.Buffers[path] = data
			result.Fetched++
			result.Bytes += int64(len(data))
		}(p)
	}

	wg.Wait()

	return result, nil
}
