package download

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vertextoedge/rangefetch/internal/port"
)

type writerState int

const (
	writerOpen writerState = iota
	writerFinalized
	writerAborted
)

var errWriterClosed = errors.New("writer already closed")

// StreamingWriter owns the temp file handle for the lifetime of one
// download. Chunk writes are strictly sequential, and between Open and the
// end of the download exactly one terminal call (Finalize or Abort) takes
// effect no matter how many error paths race to trigger teardown: the state
// transition is guarded by the mutex, not a best-effort flag.
type StreamingWriter struct {
	store port.TempStore

	mu       sync.Mutex
	state    writerState
	file     *os.File
	tempPath string
	written  int64
}

// OpenWriter opens or creates tempPath positioned after fromOffset bytes.
// Anything on disk beyond fromOffset is discarded so a stale tail can never
// leak into the finalized output.
func OpenWriter(store port.TempStore, tempPath string, fromOffset int64) (*StreamingWriter, error) {
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening temp file: %w", err)
	}
	if err := f.Truncate(fromOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating temp file to offset %d: %w", fromOffset, err)
	}
	if _, err := f.Seek(fromOffset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking temp file to offset %d: %w", fromOffset, err)
	}

	return &StreamingWriter{
		store:    store,
		file:     f,
		tempPath: tempPath,
	}, nil
}

// TempPath returns the path of the temp file this writer owns.
func (w *StreamingWriter) TempPath() string {
	return w.tempPath
}

// WriteChunk appends one chunk and returns once the write has completed.
// The mutex serializes chunk writes with each other and with teardown: a
// second chunk can never land before the previous write finishes, and a
// racing Abort waits for the in-flight write.
func (w *StreamingWriter) WriteChunk(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != writerOpen {
		return errWriterClosed
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// Written returns the bytes written through this writer, excluding any
// resumed offset already on disk.
func (w *StreamingWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Finalize closes the temp file and promotes it to destPath. It only runs
// once all pending writes have completed. On failure the writer is left in
// a terminal state with the temp file still on disk; the caller decides
// whether to delete it.
func (w *StreamingWriter) Finalize(destPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != writerOpen {
		return errWriterClosed
	}

	if err := w.file.Close(); err != nil {
		w.state = writerAborted
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := w.store.Promote(w.tempPath, destPath); err != nil {
		w.state = writerAborted
		return err
	}

	w.state = writerFinalized
	return nil
}

// Abort closes the file handle and, if requested, deletes the temp file.
// Idempotent: calls after the first terminal transition are no-ops.
func (w *StreamingWriter) Abort(deleteTemp bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != writerOpen {
		return nil
	}
	w.state = writerAborted

	closeErr := w.file.Close()
	if deleteTemp {
		if err := w.store.Remove(w.tempPath); err != nil {
			return err
		}
	}
	if closeErr != nil {
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	return nil
}
