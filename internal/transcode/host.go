package transcode

import (
	"context"
	"fmt"
	"sync"

	"hls2mp4/internal/services"
)

// HostFunc is a transcoder supplied by the embedding application, used when
// no ffmpeg binary is on the host. It reports success or failure for one job.
type HostFunc func(ctx context.Context, job Job) error

type hostEntry struct {
	name string
	fn   HostFunc
}

var hostRegistry struct {
	mu      sync.Mutex
	entries []hostEntry
}

// RegisterHost adds a host-provided transcoder. Multiple registrations are
// allowed; the first one registered is used. Registration is ignored once a
// run has already resolved its backend.
func RegisterHost(name string, fn HostFunc) {
	if fn == nil {
		return
	}
	hostRegistry.mu.Lock()
	defer hostRegistry.mu.Unlock()
	hostRegistry.entries = append(hostRegistry.entries, hostEntry{name: name, fn: fn})
}

func firstHost() (hostEntry, bool) {
	hostRegistry.mu.Lock()
	defer hostRegistry.mu.Unlock()
	if len(hostRegistry.entries) == 0 {
		return hostEntry{}, false
	}
	return hostRegistry.entries[0], true
}

// HostBackend adapts a registered HostFunc to the Backend interface.
type HostBackend struct {
	name string
	fn   HostFunc
}

func (b *HostBackend) Name() string { return b.name }

func (b *HostBackend) Transcode(ctx context.Context, job Job) error {
	if err := b.fn(ctx, job); err != nil {
		return services.Wrap(services.ErrTranscode, "transcode", b.name,
			fmt.Sprintf("host transcoder rejected %s", job.Input), err)
	}
	return nil
}
