package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"financial-advisor/client/internal/identity/service"
)

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return service.ErrMissingCredentials
				}
				password = strings.TrimRight(line, "\r\n")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				res, err := rt.auth.Login(ctx, email, password)
				if err != nil {
					if errors.Is(err, service.ErrInvalidCredentials) {
						return errors.New("login failed: invalid email or password")
					}
					return err
				}
				out := map[string]any{"state": res.State}
				if res.User != nil {
					out["user"] = res.User
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.auth.Logout(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return err
			})
		},
	}
}

type statusOutput struct {
	State             string         `json:"state"`
	CredentialPresent bool           `json:"credential_present"`
	Decoded           bool           `json:"decoded"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	Fingerprint       string         `json:"fingerprint,omitempty"`
	Profile           map[string]any `json:"profile,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state derived from the stored token",
		Long: "Show the session state derived from the stored token. With --check the profile endpoint is " +
			"called, so a token the backend rejects is cleared.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				var profile map[string]any
				var checkErr error
				if check && rt.session.Authenticated() {
					profile, checkErr = rt.auth.Profile(ctx)
				}
				st := rt.session.Status()
				out := statusOutput{
					State:             string(st.State),
					CredentialPresent: st.CredentialPresent,
					Decoded:           st.Decoded,
					Fingerprint:       st.Fingerprint,
					Profile:           profile,
				}
				if !st.ExpiresAt.IsZero() {
					out.ExpiresAt = &st.ExpiresAt
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				return checkErr
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Validate the session against the backend")
	return cmd
}
