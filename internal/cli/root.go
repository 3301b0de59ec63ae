// Package cli implements the advisorctl commands: session management, raw authenticated requests
// and voice questions answered through the transcription pipeline.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"financial-advisor/client/internal/config"
)

// NewRootCmd returns the advisorctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "advisorctl",
		Short: "Financial advisor client",
		Long: "Client runtime for the financial advisor backend: sign in, make authenticated calls, " +
			"and ask voice questions from recorded audio files. Configured from the environment and an optional .env file.",
		SilenceUsage: true,
	}
	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newRequestCmd(),
		newAskCmd(),
		newHealthCmd(),
		newEventsCmd(),
	)
	return root
}

// withRuntime loads config, installs the JSON logger and runs fn against a freshly wired runtime.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, cfg, logger, stderr)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))
	return fn(ctx, rt)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
