package capture

import (
	"context"
	"io"
	"sync"
	"time"

	"castbridge/internal/core/domain"

	"go.uber.org/zap"
)

const defaultChunkSize = 32 * 1024

// ReaderSource adapts a byte stream produced by an external capture/encoder
// pipeline (typically piped into stdin) into the frame sequence the relay and
// Miracast sender consume. The first chunk is treated as the stream header so
// late-joining clients can initialize their decoder. The sequence is not
// restartable: once the reader is drained or closed it stays closed.
type ReaderSource struct {
	reader    io.ReadCloser
	chunkSize int
	logger    *zap.SugaredLogger

	once sync.Once
	out  chan domain.EncodedFrame
}

func NewReaderSource(reader io.ReadCloser, logger *zap.SugaredLogger) *ReaderSource {
	return &ReaderSource{
		reader:    reader,
		chunkSize: defaultChunkSize,
		logger:    logger,
		out:       make(chan domain.EncodedFrame, 8),
	}
}

// Frames starts the read pump on first call and returns the shared sequence.
// Subsequent calls return the same channel.
func (s *ReaderSource) Frames(ctx context.Context) <-chan domain.EncodedFrame {
	s.once.Do(func() {
		go s.pump(ctx)
	})
	return s.out
}

func (s *ReaderSource) pump(ctx context.Context) {
	defer close(s.out)

	first := true
	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.reader.Read(buf)
		if n > 0 {
			frame := domain.EncodedFrame{
				Payload:            append([]byte(nil), buf[:n]...),
				PresentationTimeUs: time.Now().UnixMicro(),
				IsKeyFrame:         first,
				IsConfig:           first,
			}
			first = false
			select {
			case s.out <- frame:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debugw("capture read ended", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close releases the underlying capture handle.
func (s *ReaderSource) Close() error {
	return s.reader.Close()
}
