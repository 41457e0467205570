package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/recordlens/internal/record"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_DifferentInputs(t *testing.T) {
	h1 := ContentHashHex([]byte("aaa"))
	h2 := ContentHashHex([]byte("bbb"))
	if h1 == h2 {
		t.Error("expected different hashes for different inputs")
	}
}

func TestRegistry_SingleFlight(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	if !r.TryAcquire("s1", record.StageUploading, now) {
		t.Fatal("first acquire should succeed")
	}
	if r.TryAcquire("s1", record.StageParsing, now) {
		t.Fatal("second acquire should be rejected while running")
	}
	if !r.Running("s1") || r.Len() != 1 {
		t.Errorf("expected s1 running, len=%d", r.Len())
	}
	r.Release("s1")
	if r.Running("s1") {
		t.Error("expected s1 released")
	}
	if !r.TryAcquire("s1", record.StageParsing, now) {
		t.Error("acquire after release should succeed")
	}
}

func TestRegistry_ConcurrentAcquire(t *testing.T) {
	r := NewRegistry()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire("s1", record.StageUploading, time.Now()) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}
