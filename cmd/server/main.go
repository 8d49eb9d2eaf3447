package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/klawrawkz/csla/internal/audit"
	auditrepo "github.com/klawrawkz/csla/internal/audit/repository"
	"github.com/klawrawkz/csla/internal/config"
	"github.com/klawrawkz/csla/internal/db"
	healthhandler "github.com/klawrawkz/csla/internal/health/handler"
	"github.com/klawrawkz/csla/internal/identity"
	identityrepo "github.com/klawrawkz/csla/internal/identity/repository"
	"github.com/klawrawkz/csla/internal/server"
	"github.com/klawrawkz/csla/internal/server/interceptors"
	"github.com/klawrawkz/csla/internal/telemetry"
	telemetryotel "github.com/klawrawkz/csla/internal/telemetry/otel"
	"github.com/klawrawkz/csla/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SecurityDatabaseURL == "" {
		log.Fatal("SECURITY_DATABASE_URL or DATABASE_URL must be set; create a .env from .env.example")
	}

	ctx := context.Background()
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	pool := db.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns, ConnMaxLifetime: cfg.ConnMaxLifetime()}
	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	securityDB, err := db.Open(openCtx, cfg.SecurityDatabaseURL, pool)
	if err != nil {
		cancelOpen()
		log.Fatalf("security db: %v", err)
	}
	appDB := securityDB
	if cfg.DatabaseURL != "" && cfg.DatabaseURL != cfg.SecurityDatabaseURL {
		if appDB, err = db.Open(openCtx, cfg.DatabaseURL, pool); err != nil {
			cancelOpen()
			log.Fatalf("app db: %v", err)
		}
	}
	cancelOpen()

	gateway, err := identityrepo.NewPostgresGateway(securityDB, identityrepo.Procedure{
		Name:          cfg.SecurityStoredProcedure,
		UserParam:     cfg.SecurityUserParam,
		PasswordParam: cfg.SecurityPasswordParam,
	})
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	resolver := identity.NewResolver(gateway,
		identity.WithTracerProvider(otel.GetTracerProvider()),
		identity.WithMeterProvider(otel.GetMeterProvider()),
	)

	auditRepository := auditrepo.NewPostgresRepository(appDB)
	auditLogger := audit.NewLogger(auditRepository, interceptors.ClientIP)

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		log.Printf("telemetry: emitting events to Kafka topic %s", cfg.TelemetryKafkaTopic)
	}

	pingers := map[string]healthhandler.Pinger{"security_db": securityDB}
	if appDB != securityDB {
		pingers["app_db"] = appDB
	}
	s := server.NewServer(server.Deps{
		Resolver:        resolver,
		AuditRepo:       auditRepository,
		AuditReaderRole: cfg.AuditReaderRole,
		AuditLogger:     auditLogger,
		Events:          telemetry.Fanout(emitters...),
		HealthPingers:   pingers,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	s.GracefulStop()
	// In-flight async telemetry and audit writes get a bounded window to finish.
	time.Sleep(telemetry.ShutdownDrainDuration)

	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Printf("kafka producer close: %v", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	closeDB("security db", securityDB)
	if appDB != securityDB {
		closeDB("app db", appDB)
	}
	log.Println("gRPC server stopped")
}

func closeDB(name string, conn *sql.DB) {
	if err := conn.Close(); err != nil {
		log.Printf("%s close: %v", name, err)
	}
}
