package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hls2mp4/internal/playlist"
	"hls2mp4/internal/services"
)

func segmentsFor(server *httptest.Server, count int) []playlist.Segment {
	segs := make([]playlist.Segment, count)
	for i := range segs {
		segs[i] = playlist.Segment{Index: i, URI: fmt.Sprintf("%s/seg%d.ts", server.URL, i)}
	}
	return segs
}

func collect(t *testing.T, s *Scheduler, segments []playlist.Segment) ([]Result, error) {
	t.Helper()
	results := make(chan Result, len(segments))
	err := s.Run(context.Background(), segments, results)
	close(results)
	var out []Result
	for r := range results {
		out = append(out, r)
	}
	return out, err
}

func TestSchedulerFetchesAllSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "payload %s", r.URL.Path)
	}))
	defer server.Close()

	s, err := NewScheduler(Options{Concurrency: 4})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	segments := segmentsFor(server, 10)
	results, err := collect(t, s, segments)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(segments) {
		t.Fatalf("expected %d results, got %d", len(segments), len(results))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("missing result for index %d", i)
		}
		want := fmt.Sprintf("payload /seg%d.ts", i)
		if string(r.Data) != want {
			t.Fatalf("segment %d: got %q, want %q", i, r.Data, want)
		}
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	const limit = 3
	var inFlight, peak atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer server.Close()

	s, err := NewScheduler(Options{Concurrency: limit})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if _, err := collect(t, s, segmentsFor(server, 12)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Fatalf("observed %d concurrent requests, limit is %d", got, limit)
	}
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	s, err := NewScheduler(Options{Concurrency: 1, Retries: 3})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	results, err := collect(t, s, segmentsFor(server, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, server saw %d", hits.Load())
	}
	if string(results[0].Data) != "recovered" {
		t.Fatalf("unexpected payload %q", results[0].Data)
	}
}

func TestSchedulerExhaustsRetryBudget(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s, err := NewScheduler(Options{Concurrency: 1, Retries: 2})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	_, err = s.runDrained(context.Background(), segmentsFor(server, 1))
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected retries+1 = 3 attempts, server saw %d", hits.Load())
	}
}

// runDrained runs the scheduler while a goroutine drains results, for tests
// that end in failure and do not care about the payloads.
func (s *Scheduler) runDrained(ctx context.Context, segments []playlist.Segment) ([]Result, error) {
	results := make(chan Result)
	var out []Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range results {
			out = append(out, r)
		}
	}()
	err := s.Run(ctx, segments, results)
	close(results)
	wg.Wait()
	return out, err
}

func TestSchedulerAbortsRunOnFirstFailure(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/seg0.ts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits.Add(1)
		time.Sleep(5 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer server.Close()

	s, err := NewScheduler(Options{Concurrency: 2, Retries: 0})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	_, err = s.runDrained(context.Background(), segmentsFor(server, 50))
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if hits.Load() == 50 {
		t.Fatal("failure did not abort remaining fetches")
	}
}

func TestSchedulerTransformFailureAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	broken := errors.New("broken transform")
	s, err := NewScheduler(Options{
		Concurrency: 2,
		Transform: func(seg playlist.Segment, data []byte) ([]byte, error) {
			return nil, broken
		},
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	_, err = s.runDrained(context.Background(), segmentsFor(server, 4))
	if !errors.Is(err, broken) {
		t.Fatalf("expected transform error, got %v", err)
	}
}

func TestSchedulerByteRangeHeader(t *testing.T) {
	var gotRange atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("chunk"))
	}))
	defer server.Close()

	s, err := NewScheduler(Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	segs := []playlist.Segment{{
		Index:     0,
		URI:       server.URL + "/all.ts",
		ByteRange: &playlist.ByteRange{Length: 100, Offset: 200},
	}}
	if _, err := collect(t, s, segs); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := gotRange.Load(); got != "bytes=200-299" {
		t.Fatalf("Range header = %v, want bytes=200-299", got)
	}
}

func TestSchedulerLocalSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg.ts")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewScheduler(Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	segs := []playlist.Segment{
		{Index: 0, URI: path},
		{Index: 1, URI: path, ByteRange: &playlist.ByteRange{Length: 4, Offset: 2}},
	}
	results, err := collect(t, s, segs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	if string(results[0].Data) != "0123456789" {
		t.Fatalf("full read = %q", results[0].Data)
	}
	if string(results[1].Data) != "2345" {
		t.Fatalf("ranged read = %q", results[1].Data)
	}
}

func TestSchedulerReportsCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	var mu sync.Mutex
	var seen []int
	s, err := NewScheduler(Options{
		Concurrency: 2,
		OnComplete: func(completed, total int) {
			mu.Lock()
			seen = append(seen, completed)
			mu.Unlock()
			if total != 5 {
				t.Errorf("total = %d, want 5", total)
			}
		},
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if _, err := collect(t, s, segmentsFor(server, 5)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("expected 5 completion callbacks, got %d", len(seen))
	}
	// Callbacks must arrive in counting order even with parallel workers.
	for i, v := range seen {
		if v != i+1 {
			t.Fatalf("completion counts %v are not 1..5 in order", seen)
		}
	}
}

func TestSchedulerReturnsAfterConsumerAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	s, err := NewScheduler(Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan Result, 2)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, segmentsFor(server, 20), results)
	}()

	// A consumer that stops reading mid-stream leaves workers parked on the
	// results channel; cancellation must still let Run wind down.
	<-results
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSchedulerRejectsBadOptions(t *testing.T) {
	cases := []Options{
		{Concurrency: 0},
		{Concurrency: 65},
		{Concurrency: 4, Retries: -1},
		{Concurrency: 4, Retries: 11},
	}
	for _, opts := range cases {
		if _, err := NewScheduler(opts); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("options %+v: expected configuration error, got %v", opts, err)
		}
	}
}
