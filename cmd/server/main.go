package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"carecore/internal/access"
	accessmetrics "carecore/internal/access/metrics"
	"carecore/internal/audit"
	auditmetrics "carecore/internal/audit/metrics"
	auditkafka "carecore/internal/audit/publisher/kafka"
	auditmemory "carecore/internal/audit/store/memory"
	auditpostgres "carecore/internal/audit/store/postgres"
	"carecore/internal/auth"
	consentservice "carecore/internal/consent/service"
	consentstore "carecore/internal/consent/store"
	"carecore/internal/consent/sweep"
	"carecore/internal/encryption"
	"carecore/internal/pipeline"
	"carecore/internal/platform/config"
	"carecore/internal/platform/database"
	"carecore/internal/platform/httpserver"
	"carecore/internal/platform/kafka"
	"carecore/internal/platform/logger"
	"carecore/internal/platform/metrics"
	platformredis "carecore/internal/platform/redis"
	tenantmetrics "carecore/internal/tenant/metrics"
	tenantservice "carecore/internal/tenant/service"
	tenantstore "carecore/internal/tenant/store"
	httptransport "carecore/internal/transport/http"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/platform/circuit"
)

// main loads configuration and runs the server until SIGINT or SIGTERM.
func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("carecore stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("carecore stopped")
}

type stores struct {
	consents consentservice.Store
	orgs     tenantservice.Store
	chain    audit.Store
	tx       consentservice.ConsentStoreTx
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := metrics.NewRegistry()

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	st := buildStores(db)

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var (
		lease       sweep.Lease
		revocations auth.RevocationList
	)
	if rdb != nil {
		defer rdb.Close()
		host, _ := os.Hostname()
		lease = sweep.NewRedisLease(rdb.Client, fmt.Sprintf("%s-%d", host, os.Getpid()))
		revocations = auth.NewRedisRevocationList(rdb.Client)
	} else {
		log.Warn("redis not configured, sweep lease and token revocation are process local")
		lease = sweep.NewLocalLease()
		revocations = auth.NewLocalRevocationList()
	}

	masterKey, err := cfg.Crypto.MasterKey()
	if err != nil {
		return err
	}
	cipher, err := encryption.New(masterKey, encryption.NewKeyCache(),
		encryption.WithLogger(log),
		encryption.WithMetrics(encryption.NewMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("build field encryption: %w", err)
	}

	writerOpts := []audit.Option{
		audit.WithLogger(log),
		audit.WithMetrics(auditmetrics.New(reg)),
		audit.WithShards(cfg.Audit.Shards),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithRetryAttempts(cfg.Audit.RetryAttempts),
	}
	publisher, err := openAuditPublisher(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	if publisher != nil {
		writerOpts = append(writerOpts, audit.WithPublisher(publisher))
	}
	writer, err := audit.NewWriter(st.chain, cipher, writerOpts...)
	if err != nil {
		return fmt.Errorf("build audit writer: %w", err)
	}
	cipher.AddFailureHook(writer.RecordDecryptionFailure)

	ledgerOpts := []consentservice.Option{
		consentservice.WithLogger(log),
		consentservice.WithAuditEmitter(writer),
		consentservice.WithMetrics(consentservice.NewMetrics(reg)),
	}
	if st.tx != nil {
		ledgerOpts = append(ledgerOpts, consentservice.WithTx(st.tx))
	}
	ledger, err := consentservice.New(st.consents, cipher, ledgerOpts...)
	if err != nil {
		return fmt.Errorf("build consent ledger: %w", err)
	}
	sweeper, err := sweep.New(ledger, lease, cfg.Consent.SweepInterval, cfg.Consent.LeaseTTL,
		sweep.WithLogger(log),
		sweep.WithMetrics(sweep.NewMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("build consent sweeper: %w", err)
	}

	tenants := tenantservice.New(st.orgs,
		tenantservice.WithLogger(log),
		tenantservice.WithAuditEmitter(writer),
		tenantservice.WithMetrics(tenantmetrics.New(reg)),
	)
	if err := bootstrapOrganizations(ctx, tenants, cfg.Tenant.Bootstrap, log); err != nil {
		return err
	}
	engine := access.NewEngine(ledger,
		access.WithLogger(log),
		access.WithMetrics(accessmetrics.New(reg)),
	)
	authn := auth.NewAuthenticator(
		auth.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience),
		auth.WithLogger(log),
		auth.WithRevocationList(revocations),
	)
	guard := pipeline.New(authn, tenants, engine, cipher, writer,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(pipeline.NewMetrics(reg)),
	)

	handler := httptransport.NewHandler(guard, ledger, writer, log)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, metrics.Handler(reg)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting carecore", "addr", cfg.Server.Addr)
		return httpserver.Serve(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := writer.Close(drainCtx); err != nil {
		log.Error("audit writer did not drain", "error", err)
	}
	return runErr
}

// bootstrapOrganizations creates each named organization unless one with that
// name already exists.
func bootstrapOrganizations(ctx context.Context, tenants *tenantservice.Service, names []string, log *slog.Logger) error {
	for _, name := range names {
		org, err := tenants.CreateOrganization(ctx, name)
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			log.Info("bootstrap organization already exists", "name", name)
			continue
		}
		if err != nil {
			return fmt.Errorf("bootstrap organization %q: %w", name, err)
		}
		log.Info("bootstrap organization created", "name", org.Name, "org_id", org.ID.String())
	}
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		log.Warn("database not configured, using in-memory stores")
		return nil, nil
	}
	db, err := database.Open(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return db, nil
}

func buildStores(db *sql.DB) stores {
	if db == nil {
		return stores{
			consents: consentstore.NewInMemory(),
			orgs:     tenantstore.NewInMemory(),
			chain:    auditmemory.New(),
		}
	}
	return stores{
		consents: consentstore.NewPostgres(db),
		orgs:     tenantstore.NewPostgres(db),
		chain:    auditpostgres.New(db),
		tx:       newConsentPostgresTx(db),
	}
}

func openAuditPublisher(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger) (*auditkafka.Publisher, error) {
	client, err := kafka.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("kafka not configured, audit mirror disabled")
		return nil, nil
	}
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := kafka.EnsureTopic(setupCtx, client, cfg.AuditTopic, cfg.Partitions, log); err != nil {
		client.Close()
		return nil, err
	}
	publisher, err := auditkafka.New(client, cfg.AuditTopic,
		auditkafka.WithBreaker(circuit.New("audit-mirror")),
	)
	if err != nil {
		client.Close()
		return nil, err
	}
	return publisher, nil
}
