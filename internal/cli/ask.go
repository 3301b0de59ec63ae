package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"financial-advisor/client/internal/audio/capture"
	"financial-advisor/client/internal/audio/device"
	"financial-advisor/client/internal/audio/domain"
	"financial-advisor/client/internal/pipeline"
	"financial-advisor/client/internal/voice"
)

type askOutput struct {
	Feature    string         `json:"feature"`
	RunID      string         `json:"run_id"`
	Transcript string         `json:"transcript"`
	Result     map[string]any `json:"result"`
}

func newAskCmd() *cobra.Command {
	var audioPath, queryContext string
	cmd := &cobra.Command{
		Use:   "ask FEATURE",
		Short: "Ask a voice question from an audio file",
		Long: "Ask a voice question. The audio file stands in for the microphone; it is uploaded for " +
			"transcription and the transcript is sent to the feature's endpoint. FEATURE is one of chat, research, education, agent.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feature, err := voice.ParseFeature(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				set := rt.voiceSet(device.NewFile(audioPath))
				a, err := set.Get(feature)
				if err != nil {
					return err
				}
				res, err := a.Ask(ctx, queryContext, nil)
				switch {
				case errors.Is(err, domain.ErrNoAudioCaptured):
					_, err = fmt.Fprintln(cmd.ErrOrStderr(), "No audio captured; nothing was sent.")
					return err
				case errors.Is(err, domain.ErrPermissionDenied):
					return fmt.Errorf("cannot read %s: %w", audioPath, err)
				case err != nil:
					var pf *pipeline.PhaseFailure
					if errors.As(err, &pf) {
						return fmt.Errorf("%s (%s)", pf.Message, pf.Phase)
					}
					return err
				}
				return printJSON(cmd.OutOrStdout(), askOutput{
					Feature:    string(feature),
					RunID:      res.RunID,
					Transcript: res.Transcript,
					Result:     res.QueryResult,
				})
			})
		},
	}
	cmd.Flags().StringVar(&audioPath, "audio", "", "Recorded audio file (.webm, .mp4, .m4a or .wav) (required)")
	cmd.Flags().StringVar(&queryContext, "context", "", "Extra context sent with the transcript")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

// voiceSet registers one assistant per feature over a single recorder on dev.
func (rt *runtime) voiceSet(dev domain.Device) *voice.Set {
	logger := rt.logger
	rec := capture.NewRecorder(dev,
		capture.WithTickInterval(rt.cfg.RecordingTickDuration()),
		capture.OnTick(func(elapsed time.Duration) {
			logger.Debug("recording", "elapsed", elapsed)
		}),
		capture.WithLogger(logger),
		capture.WithEventEmitter(rt.emitter),
	)
	set := voice.NewSet(rec, logger)
	endpoints := map[voice.Feature]string{
		voice.FeatureChat:      rt.cfg.VoiceChatPath,
		voice.FeatureResearch:  rt.cfg.VoiceResearchPath,
		voice.FeatureEducation: rt.cfg.VoiceEducationPath,
		voice.FeatureAgent:     rt.cfg.VoiceAgentPath,
	}
	for _, f := range voice.Features {
		p := pipeline.New(rt.gw, rt.cfg.TranscribePath, rt.cfg.TranscribeField,
			pipeline.OnPhase(func(runID string, phase pipeline.Phase) {
				logger.Info("pipeline phase", "feature", string(f), "run_id", runID, "phase", string(phase))
			}),
			pipeline.WithLogger(logger),
			pipeline.WithEventEmitter(rt.emitter),
		)
		var opts []voice.AssistantOption
		if f == voice.FeatureChat {
			opts = append(opts, voice.QueryField(rt.cfg.VoiceChatField))
		}
		set.Register(f, endpoints[f], p, opts...)
	}
	return set
}
