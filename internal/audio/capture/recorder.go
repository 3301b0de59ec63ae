// Package capture implements the recorder: the state machine that owns the microphone for one
// recording at a time, from permission request to the assembled artifact.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"financial-advisor/client/internal/audio/domain"
	"financial-advisor/client/internal/platform/clock"
	"financial-advisor/client/internal/telemetry"
	teldomain "financial-advisor/client/internal/telemetry/domain"
)

var (
	// ErrNotIdle is returned by Start when a recording is already in progress.
	ErrNotIdle = errors.New("recorder: start requires idle state")
	// ErrNotRecording is returned by Stop and Cancel outside the recording state.
	ErrNotRecording = errors.New("recorder: not recording")
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithTickInterval sets the elapsed-time counter resolution. Default 1s.
func WithTickInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithTickerFactory sets how the elapsed-time ticker is created.
func WithTickerFactory(f clock.NewTickerFunc) Option {
	return func(r *Recorder) { r.newTicker = f }
}

// OnTick registers a callback receiving the elapsed time on every counter tick.
// It runs on the counter goroutine without recorder locks held.
func OnTick(fn func(elapsed time.Duration)) Option {
	return func(r *Recorder) { r.onTick = fn }
}

// WithFormats overrides the format probe order. FormatDefault is always the last resort.
func WithFormats(formats ...domain.Format) Option {
	return func(r *Recorder) { r.formats = formats }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithEventEmitter enables best-effort telemetry for completed and empty recordings.
func WithEventEmitter(e telemetry.EventEmitter) Option {
	return func(r *Recorder) { r.emitter = e }
}

// Recorder drives one Device. Only one recording is active at a time.
type Recorder struct {
	device    domain.Device
	tick      time.Duration
	newTicker clock.NewTickerFunc
	onTick    func(time.Duration)
	formats   []domain.Format
	logger    *slog.Logger
	emitter   telemetry.EventEmitter

	mu    sync.Mutex
	state domain.State
	rec   *recording
}

// recording is the state owned for one start→stop cycle.
type recording struct {
	id     string
	stream domain.Stream
	format domain.Format

	mu        sync.Mutex
	chunks    [][]byte
	accepting bool
	elapsed   time.Duration

	stopTicker context.CancelFunc
	tickerDone chan struct{}
}

func (rec *recording) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.accepting {
		return
	}
	rec.chunks = append(rec.chunks, bytes.Clone(chunk))
}

// drain stops accepting chunks and returns what was captured.
func (rec *recording) drain() ([][]byte, time.Duration) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.accepting = false
	chunks := rec.chunks
	rec.chunks = nil
	return chunks, rec.elapsed
}

// NewRecorder returns an idle Recorder over device.
func NewRecorder(device domain.Device, opts ...Option) *Recorder {
	r := &Recorder{
		device:    device,
		tick:      time.Second,
		newTicker: clock.NewTicker,
		formats:   domain.PreferredFormats,
		logger:    slog.Default(),
		state:     domain.StateIdle,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current state.
func (r *Recorder) State() domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the elapsed time of the active recording, or 0 when none is active.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.elapsed
}

// negotiate returns the first supported preferred format, else FormatDefault.
func (r *Recorder) negotiate() domain.Format {
	for _, f := range r.formats {
		if r.device.Supports(f.MIMEType) {
			return f
		}
	}
	return domain.FormatDefault
}

// Start requests the microphone and begins recording. Valid only from idle.
// A refusal returns a PermissionDeniedError; every failure leaves the recorder idle with no stream open.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != domain.StateIdle {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotIdle, state)
	}
	r.state = domain.StateRequestingPermission
	r.mu.Unlock()

	stream, err := r.device.Acquire(ctx)
	if err != nil {
		r.setIdle()
		if errors.Is(err, domain.ErrPermissionDenied) {
			var pde *domain.PermissionDeniedError
			if !errors.As(err, &pde) {
				err = &domain.PermissionDeniedError{Err: err}
			}
			r.logger.InfoContext(ctx, "microphone permission denied", "operation", "recorder.start")
			return err
		}
		return fmt.Errorf("acquire microphone: %w", err)
	}

	rec := &recording{
		id:        uuid.NewString(),
		stream:    stream,
		format:    r.negotiate(),
		accepting: true,
	}
	if err := stream.Record(rec.format, rec.append); err != nil {
		r.release(ctx, rec)
		r.setIdle()
		return fmt.Errorf("start encoder: %w", err)
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	rec.stopTicker = cancel
	rec.tickerDone = make(chan struct{})

	r.mu.Lock()
	r.rec = rec
	r.state = domain.StateRecording
	r.mu.Unlock()

	go r.count(tickCtx, rec, r.newTicker(r.tick))
	r.logger.DebugContext(ctx, "recording started", "operation", "recorder.start",
		"recording_id", rec.id, "format", rec.format.Name)
	return nil
}

// count advances the elapsed-time counter until cancelled.
func (r *Recorder) count(ctx context.Context, rec *recording, t clock.Ticker) {
	defer close(rec.tickerDone)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
		}
		rec.mu.Lock()
		rec.elapsed += r.tick
		elapsed := rec.elapsed
		rec.mu.Unlock()
		if r.onTick != nil {
			r.onTick(elapsed)
		}
	}
}

// Stop ends the recording and returns the artifact. Valid only from recording.
// The stream is released on every path. Zero captured chunks yield domain.ErrNoAudioCaptured.
func (r *Recorder) Stop(ctx context.Context) (domain.Artifact, error) {
	rec, err := r.beginStop()
	if err != nil {
		return domain.Artifact{}, err
	}
	defer r.setIdle()
	defer r.release(ctx, rec)

	flushErr := rec.stream.Flush(ctx)
	chunks, elapsed := rec.drain()
	if flushErr != nil {
		return domain.Artifact{}, fmt.Errorf("flush recording: %w", flushErr)
	}
	if len(chunks) == 0 {
		r.logger.InfoContext(ctx, "recording empty", "operation", "recorder.stop", "recording_id", rec.id)
		r.emit(ctx, teldomain.TypeRecordingEmpty, rec, nil)
		return domain.Artifact{}, domain.ErrNoAudioCaptured
	}

	art := domain.Artifact{
		ID:      rec.id,
		Format:  rec.format,
		Data:    bytes.Join(chunks, nil),
		Chunks:  len(chunks),
		Elapsed: elapsed,
	}
	r.logger.InfoContext(ctx, "recording completed", "operation", "recorder.stop",
		"recording_id", rec.id, "format", rec.format.Name, "chunks", art.Chunks, "bytes", len(art.Data), "elapsed", elapsed)
	r.emit(ctx, teldomain.TypeRecordingCompleted, rec, map[string]string{
		"format": rec.format.Name,
		"chunks": strconv.Itoa(art.Chunks),
		"bytes":  strconv.Itoa(len(art.Data)),
	})
	return art, nil
}

// Cancel discards the active recording and releases the stream. Valid only from recording.
func (r *Recorder) Cancel(ctx context.Context) error {
	rec, err := r.beginStop()
	if err != nil {
		return err
	}
	defer r.setIdle()
	rec.drain()
	r.release(ctx, rec)
	r.logger.InfoContext(ctx, "recording cancelled", "operation", "recorder.cancel", "recording_id", rec.id)
	return nil
}

// beginStop moves recording → stopping and waits for the counter to stop.
func (r *Recorder) beginStop() (*recording, error) {
	r.mu.Lock()
	if r.state != domain.StateRecording || r.rec == nil {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrNotRecording, state)
	}
	rec := r.rec
	r.state = domain.StateStopping
	r.mu.Unlock()

	rec.stopTicker()
	<-rec.tickerDone
	return rec, nil
}

func (r *Recorder) release(ctx context.Context, rec *recording) {
	if err := rec.stream.Release(); err != nil {
		r.logger.WarnContext(ctx, "release microphone failed", "operation", "recorder.release",
			"recording_id", rec.id, "error", err)
	}
}

func (r *Recorder) setIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = domain.StateIdle
	r.rec = nil
}

func (r *Recorder) emit(ctx context.Context, eventType string, rec *recording, meta map[string]string) {
	if r.emitter == nil {
		return
	}
	ev := telemetry.NewEvent(eventType, "recorder")
	ev.RunID = rec.id
	ev.Metadata = meta
	telemetry.EmitAsync(r.emitter, ctx, ev)
}
