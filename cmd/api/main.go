package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/client"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/config"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/db"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/http"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/repository"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/saga"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/service"
)

func main() {
	log.Println("Starting Provisioner Service...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN(), cfg.Database.Schema)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	tenantRepo := repository.NewTenantRepository(pool)
	instanceRepo := repository.NewInstanceRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	logRepo := repository.NewLogRepository(pool)

	// Initialize control-plane clients
	backendClient := client.NewBackendClient(
		cfg.Backend.APIURL,
		cfg.Backend.TeamID,
		cfg.Backend.AccessToken,
		cfg.Saga.StepTimeout,
	)
	hostingClient := client.NewHostingClient(
		cfg.Hosting.APIURL,
		cfg.Hosting.AccountID,
		cfg.Hosting.APIToken,
		cfg.Hosting.SiteSuffix,
		cfg.Saga.StepTimeout,
	)
	dnsClient := client.NewDNSClient(cfg.DNS.APIURL, cfg.DNS.APIToken, cfg.Saga.StepTimeout)
	identityClient := client.NewIdentityClient(cfg.Identity.APIURL, cfg.Identity.APIKey, cfg.Saga.StepTimeout)
	paymentClient := client.NewPaymentClient(cfg.Payment.APIURL, cfg.Payment.SecretKey, cfg.Saga.StepTimeout)
	dispatchClient := client.NewDispatchClient(
		cfg.Dispatch.APIURL,
		cfg.Dispatch.Token,
		cfg.Dispatch.Owner,
		cfg.Dispatch.Repo,
		cfg.Dispatch.EventType,
		cfg.Saga.StepTimeout,
	)

	// Initialize the saga runner
	runner := saga.NewRunner(
		saga.Clients{
			Backend:  backendClient,
			Hosting:  hostingClient,
			DNS:      dnsClient,
			Identity: identityClient,
			Payment:  paymentClient,
		},
		saga.Stores{
			Jobs:      jobRepo,
			Ledger:    ledgerRepo,
			Instances: instanceRepo,
			Tenants:   tenantRepo,
			Logs:      logRepo,
		},
		saga.Options{
			StepTimeout:      cfg.Saga.StepTimeout,
			JobTimeout:       cfg.Saga.JobTimeout,
			BaseDomain:       cfg.DNS.BaseDomain,
			BackendEnvVars:   cfg.Backend.EnvVars,
			IdentityClientID: cfg.Identity.ClientID,
			PaymentEvents:    cfg.Payment.EnabledEvents,
		},
	)

	// Initialize services
	provisionService := service.NewProvisionService(
		tenantRepo,
		instanceRepo,
		jobRepo,
		eventRepo,
		dispatchClient,
		runner,
		cfg,
	)

	reaper := service.NewReaper(
		instanceRepo,
		jobRepo,
		ledgerRepo,
		service.TeardownClients{
			Backend:  backendClient,
			Hosting:  hostingClient,
			DNS:      dnsClient,
			Identity: identityClient,
			Payment:  paymentClient,
		},
		cfg,
	)
	if err := reaper.Start(); err != nil {
		log.Fatalf("Failed to start reaper: %v", err)
	}

	// Initialize HTTP server
	server := http.NewServer(cfg, pool, provisionService)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	reaper.Stop()
	log.Println("Server exited")
}
