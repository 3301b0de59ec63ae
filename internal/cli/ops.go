package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"financial-advisor/client/internal/config"
	"financial-advisor/client/internal/gateway"
	"financial-advisor/client/internal/health"
	"financial-advisor/client/internal/telemetry/consumer"
	"financial-advisor/client/internal/telemetry/domain"
)

var errNotServing = errors.New("health check failed")

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the credential store, expiry policy and backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				var store health.Pinger
				if rt.db != nil {
					store = rt.db
				}
				var policy health.PolicyChecker
				if rt.policy != nil {
					policy = rt.policy
				}
				backend := func(ctx context.Context) error {
					_, err := rt.gw.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: rt.cfg.HealthPath, Public: true})
					return err
				}
				report := health.NewChecker(store, policy, backend).Check(ctx)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Status != health.StatusServing {
					return errNotServing
				}
				return nil
			})
		},
	}
}

func newEventsCmd() *cobra.Command {
	var groupID string
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print telemetry events from the Kafka topic",
		Long:  "Print telemetry events from TELEMETRY_KAFKA_TOPIC as JSON lines until interrupted or --max events were read.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			reader, err := consumer.NewKafkaReader(cfg.KafkaBrokersList(), cfg.TelemetryKafkaTopic, groupID)
			if err != nil {
				return err
			}
			defer reader.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return consumer.Tail(ctx, reader, limit, func(ev *domain.Event) error {
				return enc.Encode(ev)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "advisor-client-events", "Kafka consumer group")
	cmd.Flags().IntVar(&limit, "max", 0, "Stop after this many events (0 = no limit)")
	return cmd
}
