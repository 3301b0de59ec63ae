// Package device provides a file-backed audio Device. It stands in for a microphone in the CLI
// and in tests: the "recording" is the content of a pre-encoded audio file.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"financial-advisor/client/internal/audio/domain"
)

// DefaultChunkSize is the size of each emitted chunk.
const DefaultChunkSize = 16 * 1024

// extensionFormats maps file extensions to the format they already carry.
var extensionFormats = map[string]domain.Format{
	".webm": domain.FormatWebMOpus,
	".mp4":  domain.FormatMP4,
	".m4a":  domain.FormatMP4,
	".wav":  domain.FormatDefault,
}

// File is a Device whose stream replays the file at Path.
type File struct {
	Path      string
	ChunkSize int
}

// NewFile returns a File device for path with the default chunk size.
func NewFile(path string) *File {
	return &File{Path: path, ChunkSize: DefaultChunkSize}
}

// Format returns the format implied by the file extension, and whether it is known.
func (f *File) Format() (domain.Format, bool) {
	format, ok := extensionFormats[strings.ToLower(filepath.Ext(f.Path))]
	return format, ok
}

// Supports reports true only for the MIME type the file is already encoded in.
// The file is never transcoded.
func (f *File) Supports(mimeType string) bool {
	format, ok := f.Format()
	if !ok {
		return false
	}
	want, _, err := mime.ParseMediaType(format.MIMEType)
	if err != nil {
		return false
	}
	got, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return want == got
}

// Acquire opens the file. An unreadable file is reported as a permission refusal.
func (f *File) Acquire(ctx context.Context) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &domain.PermissionDeniedError{Err: err}
		}
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	size := f.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &fileStream{file: fh, chunkSize: size, done: make(chan struct{})}, nil
}

type fileStream struct {
	file      *os.File
	chunkSize int

	started bool
	done    chan struct{}
	readErr error

	releaseOnce sync.Once
	releaseErr  error
}

// Record emits the file in chunks from a background goroutine.
func (s *fileStream) Record(format domain.Format, emit func([]byte)) error {
	if s.started {
		return errors.New("file stream: already recording")
	}
	s.started = true
	go func() {
		defer close(s.done)
		buf := make([]byte, s.chunkSize)
		for {
			n, err := s.file.Read(buf)
			if n > 0 {
				emit(buf[:n])
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				s.readErr = err
				return
			}
		}
	}()
	return nil
}

// Flush waits until every chunk has been emitted.
func (s *fileStream) Flush(ctx context.Context) error {
	if !s.started {
		return nil
	}
	select {
	case <-s.done:
		if s.readErr != nil {
			return fmt.Errorf("read audio file: %w", s.readErr)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release closes the file. Safe to call more than once.
func (s *fileStream) Release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.file.Close()
	})
	return s.releaseErr
}
