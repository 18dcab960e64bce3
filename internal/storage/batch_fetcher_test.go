package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatchFetcher_FetchesAll(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	var paths []string
	for m := 1; m <= 12; m++ {
		p := fmt.Sprintf("data/green/green_tripdata_2023-%02d.parquet", m)
		full := filepath.Join(baseDir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(p), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	result, err := NewBatchFetcher(storage, 3).Fetch(context.Background(), paths)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Fetched != len(paths) || len(result.Buffers) != len(paths) {
		t.Errorf("expected %d buffers, got %d (fetched=%d)", len(paths), len(result.Buffers), result.Fetched)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	for _, p := range paths {
		if string(result.Buffers[p]) != p {
			t.Errorf("content mismatch for %s", p)
		}
	}
}

func TestBatchFetcher_PartialFailure(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	if err := os.WriteFile(filepath.Join(baseDir, "a.parquet"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := NewBatchFetcher(storage, 2).Fetch(context.Background(), []string{"a.parquet", "b.parquet"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, ok := result.Buffers["a.parquet"]; !ok {
		t.Error("expected a.parquet to be fetched")
	}
	if !errors.Is(result.Errors["b.parquet"], ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound for b.parquet, got %v", result.Errors["b.parquet"])
	}
	if result.Bytes != 1 {
		t.Errorf("expected 1 byte fetched, got %d", result.Bytes)
	}
}

func TestBatchFetcher_DuplicatePath(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	if _, err := NewBatchFetcher(storage, 2).Fetch(context.Background(), []string{"a", "a"}); err == nil {
		t.Error("expected duplicate path to be rejected")
	}
}

// slowStorage records the peak number of concurrent fetches.
type slowStorage struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	order    []string
}

func (s *slowStorage) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	s.mu.Lock()
	s.order = append(s.order, objectPath)
	s.mu.Unlock()
	return []byte(objectPath), nil
}

func (s *slowStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	return true, nil
}

func (s *slowStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func TestBatchFetcher_RespectsConcurrency(t *testing.T) {
	storage := &slowStorage{}
	paths := make([]string, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("obj%d", i)
	}

	result, err := NewBatchFetcher(storage, 2).Fetch(context.Background(), paths)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Fetched != 10 {
		t.Errorf("expected 10 fetches, got %d", result.Fetched)
	}
	if peak := storage.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", peak)
	}
	// Fetch must not return before every attempt completed.
	if len(storage.order) != 10 {
		t.Errorf("expected 10 completed fetches at return, got %d", len(storage.order))
	}
}

func TestBatchFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewBatchFetcher(&slowStorage{}, 1).Fetch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected both paths to fail on a cancelled context, got %v", result.Errors)
	}
}
