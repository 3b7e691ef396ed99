package transfer

import (
	"io"
	"os"
)

// sink is the local destination of a download.
type sink interface {
	io.Writer
	// Commit flushes, syncs and closes the destination and makes it visible at its path.
	Commit() error
	// Abort releases the destination after a failure or cancellation.
	Abort() error
}

// fileSink writes straight into the destination path. An aborted download leaves the
// partial file in place.
type fileSink struct {
	f *os.File
}

func newFileSink(path string) (sink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *fileSink) Commit() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

func (s *fileSink) Abort() error { return s.f.Close() }
