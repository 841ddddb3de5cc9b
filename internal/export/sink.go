package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// Sink stores a finished artifact. Save either stores all of data under name or
// returns an error with nothing visible under name.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) error
}

// FileSink writes artifacts into a directory through a temp file and rename.
type FileSink struct {
	Dir string
}

// Save implements Sink.
func (s FileSink) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return renameio.WriteFile(filepath.Join(dir, filepath.Base(name)), data, 0o644)
}

// BufferSink keeps the artifact in memory until an HTTP response writes it in one go.
type BufferSink struct {
	mu   sync.Mutex
	name string
	data []byte
}

// Save implements Sink.
func (s *BufferSink) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.data = data
	return nil
}

// Artifact returns the saved name and bytes.
func (s *BufferSink) Artifact() (string, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.data
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, name string, data []byte) error

// Save implements Sink.
func (f SinkFunc) Save(ctx context.Context, name string, data []byte) error {
	return f(ctx, name, data)
}
