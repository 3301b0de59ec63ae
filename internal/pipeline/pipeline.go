// Package pipeline runs the two chained backend calls behind every voice feature: upload the
// recording for transcription, then send the transcript to a feature-specific query endpoint.
// Session expiry from either call is returned unchanged; every other failure is a PhaseFailure.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"financial-advisor/client/internal/audio/domain"
	"financial-advisor/client/internal/gateway"
	"financial-advisor/client/internal/telemetry"
	teldomain "financial-advisor/client/internal/telemetry/domain"
)

// Phase is the progress of one run.
type Phase string

const (
	PhaseTranscribing Phase = "transcribing"
	PhaseQuerying     Phase = "querying"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// User-facing failure messages.
const (
	TranscriptionFailedMessage = "Could not understand the audio. Please try again."
	QueryFailedMessage         = "We understood you but couldn't answer right now."
)

var (
	// ErrRunInProgress is returned when Run is called while another run on the same Pipeline is active.
	ErrRunInProgress = errors.New("pipeline: run already in progress")
	// ErrTranscriptionRejected is the cause when the transcription service answers 2xx without a transcript.
	ErrTranscriptionRejected = errors.New("transcription rejected")
	// ErrInvalidQuery is returned for a Query without an endpoint.
	ErrInvalidQuery = errors.New("pipeline: query endpoint is required")
)

// PhaseFailure reports which of the two calls failed. Message is suitable for display.
type PhaseFailure struct {
	Phase   Phase
	Message string
	// Transcript is set when the failure happened after transcription succeeded.
	Transcript string
	Cause      error
}

func (e *PhaseFailure) Error() string {
	return fmt.Sprintf("pipeline: %s failed: %v", e.Phase, e.Cause)
}

func (e *PhaseFailure) Unwrap() error { return e.Cause }

// DefaultQueryField is the body key carrying the transcript when Query.Field is empty.
const DefaultQueryField = "query"

// Query is the second call of a run.
type Query struct {
	// Endpoint is the feature's query path.
	Endpoint string
	// Field is the body key for the transcript; chat takes "message". Default DefaultQueryField.
	Field string
	// Context is optional caller-supplied context sent with the transcript.
	Context string
}

// Result is the combined outcome of a successful run.
type Result struct {
	RunID       string
	Transcript  string
	QueryResult map[string]any
}

// Doer sends one gateway request.
type Doer interface {
	Do(ctx context.Context, r *gateway.Request) (*gateway.Response, error)
}

type transcriptionResponse struct {
	Success       bool   `json:"success"`
	Transcription string `json:"transcription"`
	Message       string `json:"message"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// OnPhase registers a callback invoked on every phase change. It runs on the caller's goroutine.
func OnPhase(fn func(runID string, phase Phase)) Option {
	return func(p *Pipeline) { p.onPhase = fn }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithEventEmitter enables best-effort telemetry for finished runs.
func WithEventEmitter(e telemetry.EventEmitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// Pipeline runs transcription then query. One run at a time per Pipeline.
type Pipeline struct {
	gw             Doer
	transcribePath string
	field          string
	onPhase        func(string, Phase)
	logger         *slog.Logger
	emitter        telemetry.EventEmitter

	running atomic.Bool
}

// New returns a Pipeline uploading to transcribePath under the multipart field name field.
func New(gw Doer, transcribePath, field string, opts ...Option) *Pipeline {
	p := &Pipeline{
		gw:             gw,
		transcribePath: transcribePath,
		field:          field,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Run transcribes art and, only if that produced a non-empty transcript, sends it to q.Endpoint.
// A failed run is terminal; Run never retries.
func (p *Pipeline) Run(ctx context.Context, art domain.Artifact, q Query) (*Result, error) {
	if strings.TrimSpace(q.Endpoint) == "" {
		return nil, ErrInvalidQuery
	}
	if len(art.Data) == 0 {
		return nil, domain.ErrNoAudioCaptured
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	runID := uuid.NewString()
	log := p.logger.With("run_id", runID, "recording_id", art.ID)

	p.phase(runID, PhaseTranscribing)
	transcript, err := p.transcribe(ctx, art)
	if err != nil {
		return nil, p.fail(ctx, log, runID, q, PhaseTranscribing, "", err)
	}

	p.phase(runID, PhaseQuerying)
	result, err := p.query(ctx, transcript, q)
	if err != nil {
		return nil, p.fail(ctx, log, runID, q, PhaseQuerying, transcript, err)
	}

	p.phase(runID, PhaseDone)
	log.InfoContext(ctx, "pipeline run done", "operation", "pipeline.run",
		"endpoint", q.Endpoint, "transcript_len", len(transcript))
	p.emit(ctx, teldomain.TypePipelineDone, runID, map[string]string{
		"endpoint": q.Endpoint,
		"format":   art.Format.Name,
	})
	return &Result{RunID: runID, Transcript: transcript, QueryResult: result}, nil
}

// fail reports phase failed and shapes err: session expiry passes through, everything else
// becomes a PhaseFailure.
func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, runID string, q Query, phase Phase, transcript string, err error) error {
	p.phase(runID, PhaseFailed)
	kind := gateway.KindOf(err)
	log.WarnContext(ctx, "pipeline run failed", "operation", "pipeline.run",
		"phase", string(phase), "endpoint", q.Endpoint, "kind", kind.String(), "error", err)
	p.emit(ctx, teldomain.TypePipelineFailed, runID, map[string]string{
		"phase":    string(phase),
		"endpoint": q.Endpoint,
		"kind":     kind.String(),
	})
	if kind == gateway.KindSessionExpired {
		return err
	}
	var pf *PhaseFailure
	if errors.As(err, &pf) {
		return pf
	}
	msg := TranscriptionFailedMessage
	if phase == PhaseQuerying {
		msg = QueryFailedMessage
	}
	return &PhaseFailure{Phase: phase, Message: msg, Transcript: transcript, Cause: err}
}

func (p *Pipeline) transcribe(ctx context.Context, art domain.Artifact) (string, error) {
	body, contentType, err := multipartBody(p.field, art)
	if err != nil {
		return "", err
	}
	req := &gateway.Request{
		Method: http.MethodPost,
		Path:   p.transcribePath,
		Header: http.Header{},
		Body:   body,
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := p.gw.Do(ctx, req)
	if err != nil {
		return "", err
	}
	var tr transcriptionResponse
	if err := resp.DecodeJSON(&tr); err != nil {
		return "", err
	}
	text := strings.TrimSpace(tr.Transcription)
	if !tr.Success || text == "" {
		msg := strings.TrimSpace(tr.Message)
		if msg == "" {
			msg = TranscriptionFailedMessage
		}
		return "", &PhaseFailure{
			Phase:   PhaseTranscribing,
			Message: msg,
			Cause:   fmt.Errorf("%w: %s", ErrTranscriptionRejected, msg),
		}
	}
	return text, nil
}

func (p *Pipeline) query(ctx context.Context, transcript string, q Query) (map[string]any, error) {
	req, err := gateway.NewJSONRequest(http.MethodPost, q.Endpoint, queryBody(transcript, q))
	if err != nil {
		return nil, err
	}
	resp, err := p.gw.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("decode response: expected a JSON object")
	}
	return out, nil
}

func queryBody(transcript string, q Query) map[string]string {
	field := strings.TrimSpace(q.Field)
	if field == "" {
		field = DefaultQueryField
	}
	body := map[string]string{field: transcript}
	if q.Context != "" {
		body["context"] = q.Context
	}
	return body
}

// multipartBody encodes art as a single file part named field.
func multipartBody(field string, art domain.Artifact) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(art.Filename())))
	h.Set("Content-Type", art.Format.MIMEType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(art.Data); err != nil {
		return nil, "", fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("build upload: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (p *Pipeline) phase(runID string, ph Phase) {
	if p.onPhase != nil {
		p.onPhase(runID, ph)
	}
}

func (p *Pipeline) emit(ctx context.Context, eventType, runID string, meta map[string]string) {
	if p.emitter == nil {
		return
	}
	ev := telemetry.NewEvent(eventType, "pipeline")
	ev.RunID = runID
	ev.Metadata = meta
	telemetry.EmitAsync(p.emitter, ctx, ev)
}
