package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"hls2mp4/internal/config"
	"hls2mp4/internal/logging"
	"hls2mp4/internal/playlist"
	"hls2mp4/internal/services"
)

// Result pairs a segment's payload with the index that fixes its position in
// the final stream. The payload has already been through the transform
// (decryption) when one is configured.
type Result struct {
	Index int
	Data  []byte
}

// Transform post-processes a fetched payload before it is published, running
// inline on the fetching worker. The decryption stage plugs in here.
type Transform func(seg playlist.Segment, data []byte) ([]byte, error)

// Options configures a Scheduler.
type Options struct {
	Client      *http.Client
	Concurrency int
	Retries     int
	RetryDelay  time.Duration
	Transform   Transform
	Logger      *slog.Logger
	// OnComplete is invoked after each successful segment with the number of
	// completed segments and the total.
	OnComplete func(completed, total int)
}

// Scheduler downloads all segments of a media playlist with bounded
// parallelism and a per-segment retry budget.
type Scheduler struct {
	client     *http.Client
	concurrent int
	retries    int
	retryDelay time.Duration
	transform  Transform
	logger     *slog.Logger
	onComplete func(completed, total int)
}

// NewScheduler validates the options and builds a Scheduler. Concurrency
// outside [1, 64] or retries outside [0, 10] are configuration errors.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Concurrency < 1 || opts.Concurrency > config.MaxConcurrency {
		return nil, services.Wrap(services.ErrConfiguration, "fetch", "concurrency",
			fmt.Sprintf("%d is outside [1, %d]", opts.Concurrency, config.MaxConcurrency), nil)
	}
	if opts.Retries < 0 || opts.Retries > config.MaxRetries {
		return nil, services.Wrap(services.ErrConfiguration, "fetch", "retries",
			fmt.Sprintf("%d is outside [0, %d]", opts.Retries, config.MaxRetries), nil)
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Scheduler{
		client:     client,
		concurrent: opts.Concurrency,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		transform:  opts.Transform,
		logger:     logging.WithComponent(opts.Logger, "fetch"),
		onComplete: opts.OnComplete,
	}, nil
}

// Run fetches every segment and publishes one Result per segment on results.
// Dispatch follows index order while completion order is arbitrary; at most
// the configured concurrency is in flight at any instant. The first segment
// to exhaust its retry budget aborts the whole run. Run does not close the
// results channel.
func (s *Scheduler) Run(ctx context.Context, segments []playlist.Segment, results chan<- Result) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := len(segments)
	sem := make(chan struct{}, s.concurrent)
	var wg sync.WaitGroup

	// Guards the completion count so onComplete observes 1..total in order.
	var progressMu sync.Mutex
	completed := 0

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

dispatch:
	for i := range segments {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		go func(seg playlist.Segment) {
			defer wg.Done()
			// The admission slot is released unconditionally, success or not.
			defer func() { <-sem }()

			data, err := s.fetchSegment(ctx, seg)
			if err == nil && s.transform != nil {
				data, err = s.transform(seg, data)
			}
			if err != nil {
				fail(err)
				return
			}

			select {
			case results <- Result{Index: seg.Index, Data: data}:
			case <-ctx.Done():
				return
			}

			progressMu.Lock()
			completed++
			if s.onComplete != nil {
				s.onComplete(completed, total)
			}
			progressMu.Unlock()
		}(segments[i])
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// fetchSegment retrieves one segment's raw bytes, retrying transient
// failures up to the configured budget. A segment is never attempted more
// than retries+1 times.
func (s *Scheduler) fetchSegment(ctx context.Context, seg playlist.Segment) ([]byte, error) {
	attempts := s.retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := s.fetchOnce(ctx, seg)
		if err == nil {
			return data, nil
		}
		lastErr = err
		s.logger.Warn("segment attempt failed",
			logging.Int(logging.FieldSegment, seg.Index),
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
			logging.Error(err))

		if attempt < attempts && s.retryDelay > 0 {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, services.Wrap(services.ErrFetch, "fetch", fmt.Sprintf("segment %d", seg.Index),
		fmt.Sprintf("failed after %d attempts", attempts), lastErr)
}

func (s *Scheduler) fetchOnce(ctx context.Context, seg playlist.Segment) ([]byte, error) {
	if !strings.HasPrefix(seg.URI, "http://") && !strings.HasPrefix(seg.URI, "https://") {
		return readLocalSegment(seg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.URI, nil)
	if err != nil {
		return nil, err
	}
	if br := seg.ByteRange; br != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", br.Offset, br.Offset+br.Length-1))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func readLocalSegment(seg playlist.Segment) ([]byte, error) {
	data, err := os.ReadFile(seg.URI)
	if err != nil {
		return nil, err
	}
	if br := seg.ByteRange; br != nil {
		if br.Offset+br.Length > int64(len(data)) {
			return nil, fmt.Errorf("byte range %d+%d beyond file size %d", br.Offset, br.Length, len(data))
		}
		data = data[br.Offset : br.Offset+br.Length]
	}
	return data, nil
}
