package workflow

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"hls2mp4/internal/config"
	"hls2mp4/internal/progress"
	"hls2mp4/internal/services"
	"hls2mp4/internal/testsupport"
)

// ffmpegStub writes a shell script that answers -version and -encoders
// probes and, for transcode invocations, writes a marker to its final
// argument. Mode "fail" makes transcode invocations exit non-zero.
func ffmpegStub(t *testing.T, mode string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	script := `#!/bin/sh
if [ "$1" = "-version" ]; then exit 0; fi
if [ "$1" = "-hide_banner" ] && [ "$2" = "-encoders" ]; then
  echo " V....D libx264              libx264 H.264 / AVC"
  exit 0
fi
`
	if mode == "fail" {
		script += "echo 'Error opening output' >&2\nexit 1\n"
	} else {
		script += "for last in \"$@\"; do :; done\nprintf 'mp4' > \"$last\"\nexit 0\n"
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	return path
}

func mediaServer(t *testing.T, payloads [][]byte, extra func(mux *http.ServeMux)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n")
	for i := range payloads {
		fmt.Fprintf(&sb, "#EXTINF:9.0,\nseg%d.ts\n", i)
	}
	sb.WriteString("#EXT-X-ENDLIST\n")
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sb.String())
	})
	for i, payload := range payloads {
		body := payload
		mux.HandleFunc(fmt.Sprintf("/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			w.Write(body)
		})
	}
	if extra != nil {
		extra(mux)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newRunner(t *testing.T, cfg *config.Config) *Runner {
	t.Helper()
	runner, err := NewRunner(cfg, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(func() { runner.Close() })
	return runner
}

func collectEvents(t *testing.T, emitter *progress.Emitter) func() []progress.Event {
	t.Helper()
	done := make(chan []progress.Event, 1)
	go func() {
		var events []progress.Event
		for ev := range emitter.Events() {
			events = append(events, ev)
		}
		done <- events
	}()
	return func() []progress.Event { return <-done }
}

func TestRunnerClearContent(t *testing.T) {
	payloads := [][]byte{[]byte("alpha-"), []byte("bravo-"), []byte("charlie")}
	server := mediaServer(t, payloads, nil)

	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(2))
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "ok")
	runner := newRunner(t, cfg)

	output := filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4")
	emitter := progress.NewEmitter()
	wait := collectEvents(t, emitter)

	result, err := runner.Run(context.Background(), Request{
		Source: server.URL + "/media.m3u8",
		Output: output,
	}, emitter)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Segments != 3 {
		t.Fatalf("segments = %d, want 3", result.Segments)
	}
	wantBytes := int64(len("alpha-bravo-charlie"))
	if result.Bytes != wantBytes {
		t.Fatalf("bytes = %d, want %d", result.Bytes, wantBytes)
	}
	if result.Backend != "ffmpeg" {
		t.Fatalf("backend = %q, want ffmpeg", result.Backend)
	}
	if _, statErr := os.Stat(output); statErr != nil {
		t.Fatalf("output missing: %v", statErr)
	}
	if result.MergedPath != "" {
		t.Fatalf("merged path should be empty without keep, got %q", result.MergedPath)
	}
	if entries, _ := os.ReadDir(cfg.Paths.StagingDir); countRunDirs(entries) != 0 {
		t.Fatal("staging run directory should be removed")
	}

	events := wait()
	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
	last := events[len(events)-1]
	if last.Kind != progress.KindSuccess {
		t.Fatalf("final event kind = %v, want success", last.Kind)
	}
	if events[0].Phase != PhaseResolve {
		t.Fatalf("first event phase = %q, want resolve", events[0].Phase)
	}
	var fetchFractions []float64
	for _, ev := range events {
		if ev.Phase == PhaseFetch && ev.Fraction > 0 {
			fetchFractions = append(fetchFractions, ev.Fraction)
		}
	}
	for i := 1; i < len(fetchFractions); i++ {
		if fetchFractions[i] < fetchFractions[i-1] {
			t.Fatalf("fetch fractions regressed: %v", fetchFractions)
		}
	}
}

func countRunDirs(entries []os.DirEntry) int {
	count := 0
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "run-") {
			count++
		}
	}
	return count
}

func TestRunnerEncryptedContent(t *testing.T) {
	key := []byte("0123456789abcdef")
	plaintexts := [][]byte{[]byte("first segment payload"), []byte("second segment payload")}
	payloads := make([][]byte, len(plaintexts))
	for i, plain := range plaintexts {
		payloads[i] = encryptSegment(t, key, sequenceIV(i), plain)
	}

	server := mediaServer(t, nil, func(mux *http.ServeMux) {
		var sb strings.Builder
		sb.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n")
		sb.WriteString("#EXT-X-KEY:METHOD=AES-128,URI=\"enc.key\"\n")
		for i := range payloads {
			fmt.Fprintf(&sb, "#EXTINF:9.0,\nenc%d.ts\n", i)
		}
		sb.WriteString("#EXT-X-ENDLIST\n")
		mux.HandleFunc("/encrypted.m3u8", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, sb.String())
		})
		mux.HandleFunc("/enc.key", func(w http.ResponseWriter, r *http.Request) {
			w.Write(key)
		})
		for i, payload := range payloads {
			body := payload
			mux.HandleFunc(fmt.Sprintf("/enc%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
				w.Write(body)
			})
		}
	})

	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "ok")
	runner := newRunner(t, cfg)

	output := filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4")
	result, err := runner.Run(context.Background(), Request{
		Source:           server.URL + "/encrypted.m3u8",
		Output:           output,
		KeepIntermediate: true,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.MergedPath == "" {
		t.Fatal("expected merged path with keep enabled")
	}
	merged, err := os.ReadFile(result.MergedPath)
	if err != nil {
		t.Fatalf("read merged stream: %v", err)
	}
	want := append(append([]byte(nil), plaintexts[0]...), plaintexts[1]...)
	if !bytes.Equal(merged, want) {
		t.Fatal("merged stream does not match decrypted plaintext")
	}
}

// encryptSegment produces AES-128-CBC ciphertext with PKCS#7 padding.
func encryptSegment(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

// sequenceIV is the IV an AES-128 playlist implies when the key tag carries
// no IV attribute: the segment index, big-endian, in the low eight bytes.
func sequenceIV(index int) []byte {
	iv := make([]byte, aes.BlockSize)
	iv[15] = byte(index)
	return iv
}

func TestRunnerEncryptedContentExplicitIV(t *testing.T) {
	key := []byte("fedcba9876543210")
	iv := []byte("\x01\x02\x03\x04\x05\x06\x07\x08\x09\x0a\x0b\x0c\x0d\x0e\x0f\x10")
	plaintexts := [][]byte{[]byte("opening scene"), []byte("closing scene")}
	payloads := make([][]byte, len(plaintexts))
	for i, plain := range plaintexts {
		payloads[i] = encryptSegment(t, key, iv, plain)
	}

	server := mediaServer(t, nil, func(mux *http.ServeMux) {
		var sb strings.Builder
		sb.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n")
		fmt.Fprintf(&sb, "#EXT-X-KEY:METHOD=AES-128,URI=\"enc.key\",IV=0x%s\n", hex.EncodeToString(iv))
		for i := range payloads {
			fmt.Fprintf(&sb, "#EXTINF:9.0,\nenc%d.ts\n", i)
		}
		sb.WriteString("#EXT-X-ENDLIST\n")
		mux.HandleFunc("/explicit.m3u8", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, sb.String())
		})
		mux.HandleFunc("/enc.key", func(w http.ResponseWriter, r *http.Request) {
			w.Write(key)
		})
		for i, payload := range payloads {
			body := payload
			mux.HandleFunc(fmt.Sprintf("/enc%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
				w.Write(body)
			})
		}
	})

	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "ok")
	runner := newRunner(t, cfg)

	output := filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4")
	result, err := runner.Run(context.Background(), Request{
		Source:           server.URL + "/explicit.m3u8",
		Output:           output,
		KeepIntermediate: true,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	merged, err := os.ReadFile(result.MergedPath)
	if err != nil {
		t.Fatalf("read merged stream: %v", err)
	}
	want := append(append([]byte(nil), plaintexts[0]...), plaintexts[1]...)
	if !bytes.Equal(merged, want) {
		t.Fatal("merged stream does not match decrypted plaintext")
	}
}

func TestRunnerMasterPlaylistPicksHighestBandwidth(t *testing.T) {
	payloads := [][]byte{[]byte("high quality segment")}
	server := mediaServer(t, payloads, func(mux *http.ServeMux) {
		mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "#EXTM3U\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=640x360\nlow.m3u8\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=1600000,RESOLUTION=1920x1080\nmedia.m3u8\n")
		})
		// Fetching the low variant would 404; only the selected variant
		// is ever requested.
	})

	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "ok")
	runner := newRunner(t, cfg)

	output := filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4")
	emitter := progress.NewEmitter()
	wait := collectEvents(t, emitter)
	result, err := runner.Run(context.Background(), Request{
		Source: server.URL + "/master.m3u8",
		Output: output,
	}, emitter)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Segments != 1 {
		t.Fatalf("Segments = %d, want 1", result.Segments)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("expected output file: %v", err)
	}

	selected := false
	for _, ev := range wait() {
		if ev.Phase == PhaseResolve && strings.Contains(ev.Message, "1600000") {
			selected = true
		}
	}
	if !selected {
		t.Fatal("expected a resolve event announcing the selected variant bandwidth")
	}
}

func TestRunnerFetchFailureLeavesNoOutput(t *testing.T) {
	server := mediaServer(t, [][]byte{[]byte("ok")}, func(mux *http.ServeMux) {
		mux.HandleFunc("/broken.m3u8", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:9.0,\nseg0.ts\n#EXTINF:9.0,\nmissing.ts\n#EXT-X-ENDLIST\n")
		})
		mux.HandleFunc("/missing.ts", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	})

	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "ok")
	runner := newRunner(t, cfg)

	output := filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4")
	emitter := progress.NewEmitter()
	wait := collectEvents(t, emitter)

	_, err := runner.Run(context.Background(), Request{
		Source:  server.URL + "/broken.m3u8",
		Output:  output,
		Retries: 1,
	}, emitter)
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatal("no output file should exist after a fetch failure")
	}
	if entries, _ := os.ReadDir(cfg.Paths.StagingDir); countRunDirs(entries) != 0 {
		t.Fatal("staging run directory should be removed after failure")
	}

	events := wait()
	last := events[len(events)-1]
	if last.Kind != progress.KindFailure || last.Err == nil {
		t.Fatalf("expected terminal failure event, got %+v", last)
	}
}

func TestRunnerTranscodeFailureRemovesOutput(t *testing.T) {
	server := mediaServer(t, [][]byte{[]byte("payload")}, nil)

	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "fail")
	runner := newRunner(t, cfg)

	output := filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4")
	_, err := runner.Run(context.Background(), Request{
		Source: server.URL + "/media.m3u8",
		Output: output,
	}, nil)
	if !errors.Is(err, services.ErrTranscode) {
		t.Fatalf("expected transcode error, got %v", err)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatal("failed transcode must not leave an output file")
	}
}

func TestRunnerRecordsHistory(t *testing.T) {
	server := mediaServer(t, [][]byte{[]byte("payload")}, nil)

	cfg := testsupport.NewConfig(t, testsupport.WithHistory())
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "ok")
	runner := newRunner(t, cfg)

	output := filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4")
	result, err := runner.Run(context.Background(), Request{
		Source: server.URL + "/media.m3u8",
		Output: output,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := runner.journal.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 journaled run, got %d", len(runs))
	}
	run := runs[0]
	if run.ID != result.RunID || run.Status != "completed" || run.Segments != 1 {
		t.Fatalf("unexpected journal row: %+v", run)
	}
}

func TestRunnerRejectsEmptyRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := newRunner(t, cfg)

	_, err := runner.Run(context.Background(), Request{Output: "/tmp/out.mp4"}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing source, got %v", err)
	}
	_, err = runner.Run(context.Background(), Request{Source: "https://example.com/a.m3u8"}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing output, got %v", err)
	}
}

func TestRunnerRejectsNegativeBitrates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := newRunner(t, cfg)

	base := Request{Source: "https://example.com/a.m3u8", Output: "/tmp/out.mp4"}

	req := base
	req.VideoBitrate = -1
	if _, err := runner.Run(context.Background(), req, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for negative video bitrate, got %v", err)
	}

	req = base
	req.AudioBitrate = -128
	if _, err := runner.Run(context.Background(), req, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for negative audio bitrate, got %v", err)
	}
}

func TestRunnerStagingLockContention(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcode.FFmpegBinary = ffmpegStub(t, "ok")
	if err := os.MkdirAll(cfg.Paths.StagingDir, 0o755); err != nil {
		t.Fatalf("create staging dir: %v", err)
	}

	lock := flock.New(filepath.Join(cfg.Paths.StagingDir, ".hls2mp4.lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("prior lock: locked=%v err=%v", locked, err)
	}
	defer func() { _ = lock.Unlock() }()

	runner := newRunner(t, cfg)
	_, err = runner.Run(context.Background(), Request{
		Source: "https://example.com/a.m3u8",
		Output: filepath.Join(testsupport.BaseDir(cfg), "out", "video.mp4"),
	}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error while staging is locked, got %v", err)
	}
	if !strings.Contains(err.Error(), "another run is using") {
		t.Fatalf("error does not name the contended staging root: %v", err)
	}
}
