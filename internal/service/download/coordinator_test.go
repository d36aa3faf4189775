package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vertextoedge/rangefetch/internal/adapter/filesystem"
	"github.com/vertextoedge/rangefetch/internal/adapter/httptransport"
	"github.com/vertextoedge/rangefetch/internal/domain"
	"go.uber.org/zap"
)

var testLastModified = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func testBody(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

type testEnv struct {
	tempDir string
	destDir string
	store   *filesystem.Store
	coord   *Coordinator
}

func newTestEnv(t *testing.T, client *http.Client) *testEnv {
	t.Helper()
	tempDir := t.TempDir()
	store, err := filesystem.New(tempDir)
	if err != nil {
		t.Fatalf("filesystem.New() failed: %v", err)
	}
	transport := httptransport.New(&httptransport.Config{Client: client}, zap.NewNop())
	return &testEnv{
		tempDir: tempDir,
		destDir: t.TempDir(),
		store:   store,
		coord:   NewCoordinator(transport, store, zap.NewNop()),
	}
}

// progressLog records progress callbacks for later assertions.
type progressLog struct {
	mu    sync.Mutex
	calls [][2]int64
}

func (p *progressLog) fn(received, total int64) {
	p.mu.Lock()
	p.calls = append(p.calls, [2]int64{received, total})
	p.mu.Unlock()
}

func (p *progressLog) snapshot() [][2]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][2]int64, len(p.calls))
	copy(out, p.calls)
	return out
}

// staticFileServer serves body with a fixed Last-Modified, honoring Range.
func staticFileServer(body []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", testLastModified, bytes.NewReader(body))
	})
}

func TestCoordinator_FullDownload(t *testing.T) {
	body := testBody(10000)
	srv := httptest.NewServer(staticFileServer(body))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")
	progress := &progressLog{}

	outcome, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
		OnProgress:  progress.fn,
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	if outcome.BytesReceived != 10000 {
		t.Errorf("BytesReceived = %d, want 10000", outcome.BytesReceived)
	}
	if outcome.ResumedFrom != 0 {
		t.Errorf("ResumedFrom = %d, want 0", outcome.ResumedFrom)
	}
	if outcome.Path != dest {
		t.Errorf("Path = %q, want %q", outcome.Path, dest)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Error("downloaded file differs from served body")
	}

	calls := progress.snapshot()
	if len(calls) == 0 {
		t.Fatal("no progress reported")
	}
	last := calls[len(calls)-1]
	if last != [2]int64{10000, 10000} {
		t.Errorf("final progress = %v, want (10000, 10000)", last)
	}
	var prev int64
	for i, c := range calls {
		if c[0] < prev {
			t.Errorf("progress[%d] = %d went backwards from %d", i, c[0], prev)
		}
		if c[1] != 10000 {
			t.Errorf("progress[%d] total = %d, want 10000", i, c[1])
		}
		prev = c[0]
	}

	// The temp file was promoted, not copied.
	entries, _ := os.ReadDir(env.tempDir)
	if len(entries) != 0 {
		t.Errorf("temp dir not empty after success: %v", entries)
	}
}

func TestCoordinator_Resume(t *testing.T) {
	body := testBody(10000)
	var sawRange string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mu.Lock()
			sawRange = r.Header.Get("Range")
			mu.Unlock()
		}
		http.ServeContent(w, r, "file.bin", testLastModified, bytes.NewReader(body))
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")

	// A partial from an earlier attempt against the same remote version.
	tempPath := env.store.TempPath("file.bin", testLastModified.UnixMilli())
	if err := os.WriteFile(tempPath, body[:4000], 0644); err != nil {
		t.Fatal(err)
	}

	outcome, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	mu.Lock()
	gotRange := sawRange
	mu.Unlock()
	if gotRange != "bytes=4000-" {
		t.Errorf("Range header = %q, want %q", gotRange, "bytes=4000-")
	}
	if outcome.ResumedFrom != 4000 {
		t.Errorf("ResumedFrom = %d, want 4000", outcome.ResumedFrom)
	}
	if outcome.BytesReceived != 10000 {
		t.Errorf("BytesReceived = %d, want 10000", outcome.BytesReceived)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Error("resumed file differs from served body")
	}
}

func TestCoordinator_StalePartialIgnored(t *testing.T) {
	body := testBody(5000)
	srv := httptest.NewServer(staticFileServer(body))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")

	// A partial keyed to a different remote version never matches.
	staleKey := testLastModified.Add(-time.Hour).UnixMilli()
	stalePath := env.store.TempPath("file.bin", staleKey)
	if err := os.WriteFile(stalePath, []byte("old junk"), 0644); err != nil {
		t.Fatal(err)
	}

	outcome, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if outcome.ResumedFrom != 0 {
		t.Errorf("ResumedFrom = %d, want 0 (stale partial must not match)", outcome.ResumedFrom)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Error("downloaded file differs from served body")
	}
}

func TestCoordinator_ServerIgnoresRange(t *testing.T) {
	body := testBody(8000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", testLastModified.Format(http.TimeFormat))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Full replay regardless of the Range header.
		w.Header().Set("Content-Length", "8000")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")

	tempPath := env.store.TempPath("file.bin", testLastModified.UnixMilli())
	if err := os.WriteFile(tempPath, body[:3000], 0644); err != nil {
		t.Fatal(err)
	}

	outcome, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if outcome.ResumedFrom != 0 {
		t.Errorf("ResumedFrom = %d, want 0 after a 200 replay", outcome.ResumedFrom)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Error("a replayed transfer must restart from zero, not append")
	}
}

func TestCoordinator_CompressedTotalUnknown(t *testing.T) {
	body := testBody(5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", testLastModified.Format(http.TimeFormat))
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", "5000")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	// Transparent decompression off so the Content-Encoding header survives.
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	env := newTestEnv(t, client)
	dest := filepath.Join(env.destDir, "file.bin")
	progress := &progressLog{}

	_, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
		OnProgress:  progress.fn,
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	calls := progress.snapshot()
	if len(calls) == 0 {
		t.Fatal("no progress reported")
	}
	for i, c := range calls {
		if c[1] != -1 {
			t.Errorf("progress[%d] total = %d, want -1 for a compressed response", i, c[1])
		}
	}
}

func TestCoordinator_Cancel(t *testing.T) {
	for _, tt := range []struct {
		name        string
		keepPartial bool
	}{
		{"delete partial", false},
		{"keep partial", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			body := testBody(4000)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Last-Modified", testLastModified.Format(http.TimeFormat))
				if r.Method == http.MethodHead {
					w.WriteHeader(http.StatusOK)
					return
				}
				w.WriteHeader(http.StatusOK)
				w.Write(body)
				w.(http.Flusher).Flush()
				// Stall until the client goes away.
				<-r.Context().Done()
			}))
			defer srv.Close()

			env := newTestEnv(t, nil)
			dest := filepath.Join(env.destDir, "file.bin")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var once sync.Once
			_, err := env.coord.Download(ctx, domain.Request{
				URL:                srv.URL + "/file.bin",
				Destination:        dest,
				KeepPartialOnError: tt.keepPartial,
				OnProgress: func(received, total int64) {
					if received >= 4000 {
						once.Do(cancel)
					}
				},
			})
			if domain.KindOf(err) != domain.KindCancelled {
				t.Fatalf("KindOf = %v (%v), want KindCancelled", domain.KindOf(err), err)
			}

			if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
				t.Error("destination must not exist after a cancelled download")
			}

			tempPath := env.store.TempPath("file.bin", testLastModified.UnixMilli())
			_, statErr := os.Stat(tempPath)
			if tt.keepPartial && statErr != nil {
				t.Errorf("partial should survive cancellation: %v", statErr)
			}
			if !tt.keepPartial && !os.IsNotExist(statErr) {
				t.Error("partial should be deleted after cancellation")
			}
		})
	}
}

func TestCoordinator_ReceiveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", testLastModified.Format(http.TimeFormat))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("some bytes"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")

	_, err := env.coord.Download(context.Background(), domain.Request{
		URL:            srv.URL + "/file.bin",
		Destination:    dest,
		ReceiveTimeout: 50 * time.Millisecond,
	})
	if domain.KindOf(err) != domain.KindReceiveTimeout {
		t.Fatalf("KindOf = %v (%v), want KindReceiveTimeout", domain.KindOf(err), err)
	}
	if !errors.Is(err, domain.ErrReceiveTimeout) {
		t.Error("timeout cause should be reachable through the error chain")
	}
}

func TestCoordinator_ProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)
	_, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: filepath.Join(env.destDir, "file.bin"),
	})
	if domain.KindOf(err) != domain.KindProbe {
		t.Fatalf("KindOf = %v (%v), want KindProbe", domain.KindOf(err), err)
	}
}

func TestCoordinator_ResponseStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "gone fishing", http.StatusNotFound)
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)
	_, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: filepath.Join(env.destDir, "file.bin"),
	})
	if domain.KindOf(err) != domain.KindResponseStatus {
		t.Fatalf("KindOf = %v (%v), want KindResponseStatus", domain.KindOf(err), err)
	}

	var de *domain.DownloadError
	if !errors.As(err, &de) {
		t.Fatal("error should be a DownloadError")
	}
	if de.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", de.StatusCode)
	}
	if !bytes.Contains(de.Body, []byte("gone fishing")) {
		t.Errorf("Body = %q, want it to contain the server message", de.Body)
	}
}

func TestCoordinator_DestinationFunc(t *testing.T) {
	body := testBody(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-File-Name", "named-by-server.bin")
		http.ServeContent(w, r, "file.bin", testLastModified, bytes.NewReader(body))
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)

	outcome, err := env.coord.Download(context.Background(), domain.Request{
		URL: srv.URL + "/file.bin",
		DestinationFunc: func(header http.Header) string {
			return filepath.Join(env.destDir, header.Get("X-File-Name"))
		},
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	want := filepath.Join(env.destDir, "named-by-server.bin")
	if outcome.Path != want {
		t.Errorf("Path = %q, want %q", outcome.Path, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("destination missing: %v", err)
	}
}

func TestCoordinator_NoResumeWithoutLastModified(t *testing.T) {
	body := testBody(3000)
	var sawRange string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mu.Lock()
			sawRange = r.Header.Get("Range")
			mu.Unlock()
		}
		// No Last-Modified header at all.
		w.Header().Set("Content-Length", "3000")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(body)
		}
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")

	// Even a keyless partial on disk must not trigger a range request.
	if err := os.WriteFile(env.store.TempPath("file.bin", 0), body[:1000], 0644); err != nil {
		t.Fatal(err)
	}

	outcome, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	mu.Lock()
	gotRange := sawRange
	mu.Unlock()
	if gotRange != "" {
		t.Errorf("Range header = %q, want none without a resume identity", gotRange)
	}
	if outcome.ResumedFrom != 0 {
		t.Errorf("ResumedFrom = %d, want 0", outcome.ResumedFrom)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Error("downloaded file differs from served body")
	}
}

func TestCoordinator_ReleasesWatcherGoroutine(t *testing.T) {
	body := testBody(1000)
	srv := httptest.NewServer(staticFileServer(body))
	defer srv.Close()

	env := newTestEnv(t, nil)
	before := runtime.NumGoroutine()

	// No receive timeout and a never-cancelled context: the interrupt
	// watcher must still exit once each download completes.
	for i := 0; i < 20; i++ {
		dest := filepath.Join(env.destDir, fmt.Sprintf("file-%d.bin", i))
		if _, err := env.coord.Download(context.Background(), domain.Request{
			URL:         srv.URL + "/file.bin",
			Destination: dest,
		}); err != nil {
			t.Fatalf("Download() %d failed: %v", i, err)
		}
	}

	// Allow a few extra goroutines for idle connection readers.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+6 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d after 20 downloads, started with %d",
				runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCoordinator_NoProgressAfterReturn(t *testing.T) {
	body := testBody(4000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", testLastModified.Format(http.TimeFormat))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var returned atomic.Bool
	var once sync.Once
	_, err := env.coord.Download(ctx, domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
		OnProgress: func(received, total int64) {
			if returned.Load() {
				t.Error("progress callback fired after Download returned")
			}
			if received >= 4000 {
				once.Do(cancel)
			}
		},
	})
	returned.Store(true)
	if domain.KindOf(err) != domain.KindCancelled {
		t.Fatalf("KindOf = %v (%v), want KindCancelled", domain.KindOf(err), err)
	}

	// Give any stray in-flight callback a chance to fire.
	time.Sleep(50 * time.Millisecond)
}

func TestCoordinator_TempFileCallback(t *testing.T) {
	body := testBody(2000)
	srv := httptest.NewServer(staticFileServer(body))
	defer srv.Close()

	env := newTestEnv(t, nil)
	dest := filepath.Join(env.destDir, "file.bin")

	var gotTemp string
	_, err := env.coord.Download(context.Background(), domain.Request{
		URL:         srv.URL + "/file.bin",
		Destination: dest,
		OnTempFile: func(path string) {
			gotTemp = path
		},
	})
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	want := env.store.TempPath("file.bin", testLastModified.UnixMilli())
	if gotTemp != want {
		t.Errorf("OnTempFile path = %q, want %q", gotTemp, want)
	}
}

func TestCoordinator_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.coord.Download(context.Background(), domain.Request{
		Destination: "somewhere",
	})
	if !errors.Is(err, domain.ErrNoURL) {
		t.Errorf("Download() without URL = %v, want ErrNoURL", err)
	}

	_, err = env.coord.Download(context.Background(), domain.Request{
		URL: "http://example.com/file",
	})
	if !errors.Is(err, domain.ErrNoDestination) {
		t.Errorf("Download() without destination = %v, want ErrNoDestination", err)
	}
}
