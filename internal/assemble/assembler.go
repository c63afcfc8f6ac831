package assemble

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"hls2mp4/internal/fetch"
	"hls2mp4/internal/logging"
	"hls2mp4/internal/services"
)

// Assembler writes segment payloads to a single file in index order,
// buffering out-of-order arrivals until their predecessors have landed.
type Assembler struct {
	path   string
	total  int
	logger *slog.Logger

	file    *os.File
	next    int
	pending map[int][]byte
	written int64
}

// New creates the output file and an Assembler expecting total segments.
// The parent directory must already exist.
func New(path string, total int, logger *slog.Logger) (*Assembler, error) {
	if total < 1 {
		return nil, services.Wrap(services.ErrAssembly, "assemble", "open",
			fmt.Sprintf("segment count %d is not positive", total), nil)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, services.Wrap(services.ErrAssembly, "assemble", "open",
			fmt.Sprintf("creating %s", path), err)
	}
	return &Assembler{
		path:    path,
		total:   total,
		logger:  logging.WithComponent(logger, "assemble"),
		file:    file,
		pending: make(map[int][]byte),
	}, nil
}

// Consume drains results until every expected segment has been written or
// the channel closes early. On success it returns the byte count of the
// assembled file; on any failure the partial file is removed.
func (a *Assembler) Consume(results <-chan fetch.Result) (int64, error) {
	for r := range results {
		if err := a.accept(r); err != nil {
			a.Discard()
			return 0, err
		}
		if a.next == a.total {
			break
		}
	}

	if a.next != a.total {
		a.Discard()
		return 0, services.Wrap(services.ErrAssembly, "assemble", "drain",
			fmt.Sprintf("stream ended after %d of %d segments", a.next, a.total), nil)
	}

	if err := a.file.Close(); err != nil {
		a.file = nil
		os.Remove(a.path)
		return 0, services.Wrap(services.ErrAssembly, "assemble", "close", a.path, err)
	}
	a.file = nil
	a.logger.Debug("assembly complete",
		logging.Int("segments", a.total),
		logging.Int64("bytes", a.written))
	return a.written, nil
}

// accept stores or writes one result, then flushes any pending successors
// that became eligible. Writes are strictly in increasing index order.
func (a *Assembler) accept(r fetch.Result) error {
	if r.Index < 0 || r.Index >= a.total {
		return services.Wrap(services.ErrAssembly, "assemble", "order",
			fmt.Sprintf("segment index %d outside [0, %d)", r.Index, a.total), nil)
	}
	if r.Index < a.next {
		return services.Wrap(services.ErrAssembly, "assemble", "order",
			fmt.Sprintf("segment %d delivered twice", r.Index), nil)
	}
	if _, dup := a.pending[r.Index]; dup {
		return services.Wrap(services.ErrAssembly, "assemble", "order",
			fmt.Sprintf("segment %d delivered twice", r.Index), nil)
	}
	a.pending[r.Index] = r.Data

	for {
		data, ok := a.pending[a.next]
		if !ok {
			return nil
		}
		delete(a.pending, a.next)
		n, err := a.file.Write(data)
		a.written += int64(n)
		if err != nil {
			return services.Wrap(services.ErrAssembly, "assemble", "write",
				fmt.Sprintf("segment %d", a.next), err)
		}
		a.next++
	}
}

// Discard closes and removes the output file. It is a no-op after a
// successful Consume.
func (a *Assembler) Discard() {
	if a.file != nil {
		a.file.Close()
		a.file = nil
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("removing partial file",
				logging.String("path", filepath.Base(a.path)),
				logging.Error(err))
		}
	}
}
