// Package domain holds the audio capture types: recorder states, encoding formats, the
// captured artifact, and the device interfaces the recorder drives.
package domain

import (
	"context"
	"errors"
	"time"
)

// State is the recorder state.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateRecording            State = "recording"
	StateStopping             State = "stopping"
)

// Format is an encoding the device can produce.
type Format struct {
	Name      string
	MIMEType  string
	Extension string
}

var (
	FormatWebMOpus = Format{Name: "webm-opus", MIMEType: "audio/webm;codecs=opus", Extension: "webm"}
	FormatMP4      = Format{Name: "mp4", MIMEType: "audio/mp4", Extension: "mp4"}
	// FormatDefault is used when no preferred format is supported; it is never probed.
	FormatDefault = Format{Name: "default", MIMEType: "audio/wav", Extension: "wav"}
)

// PreferredFormats is the probe order. FormatDefault follows implicitly.
var PreferredFormats = []Format{FormatWebMOpus, FormatMP4}

// Artifact is one completed recording: all chunks concatenated in delivery order.
type Artifact struct {
	ID      string
	Format  Format
	Data    []byte
	Chunks  int
	Elapsed time.Duration
}

// Filename returns the upload filename for the artifact's format.
func (a Artifact) Filename() string {
	return "recording." + a.Format.Extension
}

// Device is the microphone. Acquire prompts for permission and opens a live stream.
type Device interface {
	// Supports reports whether the encoder can produce mimeType.
	Supports(mimeType string) bool
	// Acquire returns an open stream. A refusal is reported with an error matching ErrPermissionDenied.
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is an open microphone stream with a streaming encoder.
type Stream interface {
	// Record starts encoding in format and calls emit for each chunk, in order, from any goroutine.
	Record(format Format, emit func(chunk []byte)) error
	// Flush stops encoding and returns after the final chunk has been emitted.
	Flush(ctx context.Context) error
	// Release closes the hardware stream. It must be safe to call after a failed Record or Flush.
	Release() error
}

var (
	// ErrPermissionDenied is matched by errors.Is for any PermissionDeniedError.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrNoAudioCaptured means the recording ended with zero chunks. Callers skip processing.
	ErrNoAudioCaptured = errors.New("no audio captured")
)

// PermissionDeniedError is returned by Start when the user refuses microphone access.
type PermissionDeniedError struct {
	Err error
}

func (e *PermissionDeniedError) Error() string {
	if e.Err == nil {
		return ErrPermissionDenied.Error()
	}
	return ErrPermissionDenied.Error() + ": " + e.Err.Error()
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPermissionDenied) true.
func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }
