// Package voice wires the recorder and the pipeline into per-feature voice assistants. Every
// feature shares one recorder (one microphone) and owns its own pipeline.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"financial-advisor/client/internal/audio/domain"
	"financial-advisor/client/internal/pipeline"
)

// Feature names a voice-enabled feature.
type Feature string

const (
	FeatureChat      Feature = "chat"
	FeatureResearch  Feature = "research"
	FeatureEducation Feature = "education"
	FeatureAgent     Feature = "agent"
)

// Features lists the known features in display order.
var Features = []Feature{FeatureChat, FeatureResearch, FeatureEducation, FeatureAgent}

var (
	ErrUnknownFeature = errors.New("voice: unknown feature")
	// ErrMicrophoneBusy is returned by Start while any feature, including the caller, holds the recorder.
	ErrMicrophoneBusy = errors.New("voice: microphone in use by another feature")
	// ErrNotActive is returned by Stop and Cancel on a feature that is not recording.
	ErrNotActive = errors.New("voice: feature is not recording")
)

// ParseFeature maps a name to a Feature, case-insensitively.
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Features {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownFeature, s)
}

// Recorder is the capture surface an assistant drives.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (domain.Artifact, error)
	Cancel(ctx context.Context) error
}

// Runner runs one transcription-then-query pipeline.
type Runner interface {
	Run(ctx context.Context, art domain.Artifact, q pipeline.Query) (*pipeline.Result, error)
}

// Set holds the assistants sharing one recorder and tracks which feature owns it.
type Set struct {
	recorder Recorder
	logger   *slog.Logger

	mu         sync.Mutex
	owner      Feature
	assistants map[Feature]*Assistant
}

// NewSet returns an empty Set over recorder. logger may be nil.
func NewSet(recorder Recorder, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{recorder: recorder, logger: logger, assistants: make(map[Feature]*Assistant)}
}

// AssistantOption configures a registered Assistant.
type AssistantOption func(*Assistant)

// QueryField sets the body key carrying the transcript. Default pipeline.DefaultQueryField.
func QueryField(field string) AssistantOption {
	return func(a *Assistant) { a.field = field }
}

// Register adds (or replaces) the assistant for feature, querying endpoint through runner.
func (s *Set) Register(feature Feature, endpoint string, runner Runner, opts ...AssistantOption) *Assistant {
	a := &Assistant{set: s, feature: feature, endpoint: endpoint, runner: runner}
	for _, o := range opts {
		o(a)
	}
	s.mu.Lock()
	s.assistants[feature] = a
	s.mu.Unlock()
	return a
}

// Get returns the assistant for feature.
func (s *Set) Get(feature Feature) (*Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistants[feature]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownFeature, feature)
	}
	return a, nil
}

// Registered returns the registered features, sorted.
func (s *Set) Registered() []Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Feature, 0, len(s.assistants))
	for f := range s.assistants {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Active returns the feature currently holding the recorder.
func (s *Set) Active() (Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, s.owner != ""
}

func (s *Set) claim(f Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" {
		return fmt.Errorf("%w (%s)", ErrMicrophoneBusy, s.owner)
	}
	s.owner = f
	return nil
}

func (s *Set) owns(f Feature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner == f
}

func (s *Set) release(f Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == f {
		s.owner = ""
	}
}

// Assistant is one feature's voice flow: record, then transcribe and query.
type Assistant struct {
	set      *Set
	feature  Feature
	endpoint string
	field    string
	runner   Runner
}

// Feature returns the assistant's feature.
func (a *Assistant) Feature() Feature { return a.feature }

// Endpoint returns the feature's query endpoint.
func (a *Assistant) Endpoint() string { return a.endpoint }

// Start begins recording for this feature.
func (a *Assistant) Start(ctx context.Context) error {
	if err := a.set.claim(a.feature); err != nil {
		return err
	}
	if err := a.set.recorder.Start(ctx); err != nil {
		a.set.release(a.feature)
		return err
	}
	a.set.logger.DebugContext(ctx, "voice recording started", "operation", "voice.start", "feature", string(a.feature))
	return nil
}

// Stop ends the recording and runs the pipeline with no extra context.
func (a *Assistant) Stop(ctx context.Context) (*pipeline.Result, error) {
	return a.StopWithContext(ctx, "")
}

// StopWithContext ends the recording and runs the pipeline, sending queryContext with the transcript.
// domain.ErrNoAudioCaptured is returned unchanged and the pipeline is not run.
func (a *Assistant) StopWithContext(ctx context.Context, queryContext string) (*pipeline.Result, error) {
	if !a.set.owns(a.feature) {
		return nil, fmt.Errorf("%w (%s)", ErrNotActive, a.feature)
	}
	art, err := a.set.recorder.Stop(ctx)
	a.set.release(a.feature)
	if err != nil {
		if errors.Is(err, domain.ErrNoAudioCaptured) {
			a.set.logger.InfoContext(ctx, "voice recording empty, skipping pipeline",
				"operation", "voice.stop", "feature", string(a.feature))
		}
		return nil, err
	}
	return a.runner.Run(ctx, art, pipeline.Query{Endpoint: a.endpoint, Field: a.field, Context: queryContext})
}

// Cancel discards the active recording for this feature.
func (a *Assistant) Cancel(ctx context.Context) error {
	if !a.set.owns(a.feature) {
		return fmt.Errorf("%w (%s)", ErrNotActive, a.feature)
	}
	defer a.set.release(a.feature)
	return a.set.recorder.Cancel(ctx)
}

// Ask records one utterance and runs the pipeline: Start, then Stop once ready returns.
// ready is where a caller waits for the user (or a file device) to finish speaking.
func (a *Assistant) Ask(ctx context.Context, queryContext string, ready func(ctx context.Context) error) (*pipeline.Result, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	if ready != nil {
		if err := ready(ctx); err != nil {
			if cerr := a.Cancel(context.WithoutCancel(ctx)); cerr != nil {
				a.set.logger.WarnContext(ctx, "cancel recording failed", "operation", "voice.ask",
					"feature", string(a.feature), "error", cerr)
			}
			return nil, err
		}
	}
	return a.StopWithContext(ctx, queryContext)
}
