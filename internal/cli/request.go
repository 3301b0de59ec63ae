package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"financial-advisor/client/internal/gateway"
)

func newRequestCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an authenticated request and print the response body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			req := &gateway.Request{Method: method, Path: args[1], Header: http.Header{}}
			req.Header.Set("Accept", "application/json")
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				req.Body = []byte(data)
				req.Header.Set("Content-Type", "application/json")
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				resp, err := rt.gw.Do(ctx, req)
				if err != nil {
					return fmt.Errorf("%s %s: %w", method, args[1], err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(resp.Body), "\n"))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	return cmd
}
