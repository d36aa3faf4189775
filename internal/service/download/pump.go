package download

import (
	"context"
	"errors"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// drain moves chunks from the stream into the writer one at a time: the
// next chunk is only taken once the previous write has landed, which is
// what keeps the source paused while disk I/O is in flight. Cancellation is
// checked before every handoff so a cancelled download never takes another
// chunk from a paused source.
func drain(ctx context.Context, stream port.ByteStream, w *StreamingWriter, tr *tracker) error {
	for {
		select {
		case <-ctx.Done():
			stream.Cancel()
			return classifyInterrupt(ctx)
		default:
		}

		select {
		case <-ctx.Done():
			stream.Cancel()
			return classifyInterrupt(ctx)

		case chunk, ok := <-stream.Chunks():
			if !ok {
				if err := stream.Err(); err != nil {
					return domain.NewDownloadError(domain.KindStream, err)
				}
				return nil
			}
			if err := w.WriteChunk(chunk); err != nil {
				stream.Cancel()
				return domain.NewDownloadError(domain.KindWrite, err)
			}
			tr.add(len(chunk))
		}
	}
}

// classifyInterrupt converts a context interruption into its failure kind:
// an elapsed receive timeout is re-classified into a distinct failure,
// everything else is caller cancellation.
func classifyInterrupt(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, domain.ErrReceiveTimeout) {
		return domain.NewDownloadError(domain.KindReceiveTimeout, cause)
	}
	return domain.NewDownloadError(domain.KindCancelled, cause)
}
