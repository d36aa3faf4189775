package httptransport

import (
	"io"
	"sync"

	"github.com/vertextoedge/rangefetch/internal/port"
)

// stream pumps a response body into an unbuffered handoff channel. The
// consumer paces the producer: every send blocks until the chunk is taken,
// so a slow disk never lets the socket side queue chunks in memory.
type stream struct {
	body io.ReadCloser
	ch   chan []byte
	buf  []byte

	stop     chan struct{}
	stopOnce sync.Once
	bodyOnce sync.Once

	// err is written before ch is closed; readers may only consult it after
	// the channel close.
	err error
}

// Ensure stream implements port.ByteStream
var _ port.ByteStream = (*stream)(nil)

func newStream(body io.ReadCloser, bufSize int) *stream {
	return &stream{
		body: body,
		ch:   make(chan []byte),
		buf:  make([]byte, bufSize),
		stop: make(chan struct{}),
	}
}

// run reads the body until EOF, error or cancellation. Chunks are copied out
// of the reusable read buffer because the consumer holds them across the
// next read.
func (s *stream) run() {
	defer close(s.ch)
	defer s.closeBody()

	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])

			select {
			case s.ch <- chunk:
			case <-s.stop:
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case <-s.stop:
				// Read failure caused by Cancel closing the body; not a
				// stream error.
			default:
				s.err = err
			}
			return
		}
	}
}

// Chunks returns the handoff channel.
func (s *stream) Chunks() <-chan []byte {
	return s.ch
}

// Err returns the terminal stream error once Chunks is closed.
func (s *stream) Err() error {
	return s.err
}

// Cancel stops the producer and closes the underlying body, unblocking any
// in-flight read.
func (s *stream) Cancel() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.closeBody()
}

func (s *stream) closeBody() {
	s.bodyOnce.Do(func() {
		_ = s.body.Close()
	})
}
