package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"financial-advisor/client/internal/config"
	"financial-advisor/client/internal/credential"
	"financial-advisor/client/internal/credential/repository"
	"financial-advisor/client/internal/db"
	"financial-advisor/client/internal/gateway"
	"financial-advisor/client/internal/identity/service"
	"financial-advisor/client/internal/policy/engine"
	sessionservice "financial-advisor/client/internal/session/service"
	"financial-advisor/client/internal/telemetry"
	telotel "financial-advisor/client/internal/telemetry/otel"
	"financial-advisor/client/internal/telemetry/producer"
)

// runtime is the wired client for one command invocation.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	stderr  io.Writer
	db      *sql.DB
	store   *credential.Store
	session *sessionservice.Manager
	gw      *gateway.Client
	auth    *service.AuthService
	emitter telemetry.EventEmitter
	// policy is set when EXPIRY_POLICY_FILE replaces the marker classifier.
	policy *engine.ExpiryEvaluator

	providers *telotel.Providers
	kafka     *producer.KafkaProducer
	// telemetryOn is true when an exporter is configured; Close then waits for async emits.
	telemetryOn bool
}

// openRuntime wires storage, session, gateway and telemetry from cfg and settles the session.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, stderr io.Writer) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger, stderr: stderr}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := rt.openTelemetry(ctx); err != nil {
		return nil, err
	}

	repo, err := rt.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = credential.NewStore(repo, cfg.CredentialSlot, logger)

	classifier, err := rt.expiryClassifier(ctx)
	if err != nil {
		return nil, err
	}

	prober := &gateway.SessionProber{Path: cfg.ProfilePath}
	rt.session = sessionservice.NewManager(rt.store, prober,
		sessionservice.NotifierFunc(func(_ context.Context, message string) {
			fmt.Fprintln(stderr, message)
		}),
		sessionservice.RedirectorFunc(func(context.Context) {
			fmt.Fprintln(stderr, "Sign in again with: advisorctl login --email EMAIL --password PASSWORD")
		}),
		sessionservice.WithLivenessInterval(cfg.LivenessInterval()),
		sessionservice.WithLogger(logger),
		sessionservice.WithEventEmitter(rt.emitter),
	)
	rt.gw, err = gateway.New(cfg.APIBaseURL, rt.session,
		gateway.WithClassifier(classifier),
		gateway.WithTimeout(cfg.HTTPTimeoutDuration()),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	prober.Client = rt.gw
	rt.auth = service.NewAuthService(rt.gw, rt.session, cfg.LoginPath, cfg.ProfilePath, logger)

	rt.session.Init(ctx)
	return rt, nil
}

func (rt *runtime) openTelemetry(ctx context.Context) error {
	providers, err := telotel.NewProviders(ctx, rt.cfg.OTLPEndpoint, rt.cfg.ServiceName, rt.cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	rt.providers = providers
	emitters := telemetry.Multi{telotel.NewEventEmitter(providers.LoggerProvider)}

	kp, err := producer.NewKafkaProducer(rt.cfg.KafkaBrokersList(), rt.cfg.TelemetryKafkaTopic)
	if err != nil {
		return fmt.Errorf("telemetry kafka: %w", err)
	}
	if kp != nil {
		rt.kafka = kp
		emitters = append(emitters, kp)
	}
	rt.emitter = emitters
	rt.telemetryOn = rt.cfg.OTLPEndpoint != "" || kp != nil
	return nil
}

func (rt *runtime) openRepository(ctx context.Context) (repository.Repository, error) {
	switch rt.cfg.CredentialStore {
	case config.StoreSQLite:
		conn, err := db.OpenSQLite(rt.cfg.CredentialSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
		rt.db = conn
		return repository.NewSQLiteRepository(ctx, conn)
	case config.StorePostgres:
		conn, err := db.Open(rt.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
		rt.db = conn
		return repository.NewPostgresRepository(conn), nil
	case config.StoreMemory:
		return repository.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("credential store: unknown kind %q", rt.cfg.CredentialStore)
	}
}

func (rt *runtime) expiryClassifier(ctx context.Context) (gateway.ExpiryClassifier, error) {
	if rt.cfg.ExpiryPolicyFile == "" {
		return gateway.MarkerClassifier{Marker: rt.cfg.ExpiryMarker}, nil
	}
	policy, err := engine.LoadExpiryPolicy(rt.cfg.ExpiryPolicyFile)
	if err != nil {
		return nil, err
	}
	ev, err := engine.NewExpiryEvaluator(ctx, policy, rt.cfg.ExpiryMarker)
	if err != nil {
		return nil, err
	}
	rt.policy = ev
	return ev, nil
}

// Close stops the session, closes storage and flushes telemetry. Safe on a partly opened runtime.
func (rt *runtime) Close(ctx context.Context) {
	if rt.session != nil {
		rt.session.Close()
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("close credential store failed", "error", err)
		}
	}
	if rt.telemetryOn {
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	var errs []error
	if rt.kafka != nil {
		errs = append(errs, rt.kafka.Close())
	}
	if rt.providers != nil && rt.providers.Shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errs = append(errs, rt.providers.Shutdown(shutdownCtx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
}
