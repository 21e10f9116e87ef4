package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conventionflow/broadcast"
	"conventionflow/consumer"
	"conventionflow/convention"
	"conventionflow/db"
	"conventionflow/event"
	"conventionflow/resync"
)

// app bundles the wired services; the transport layer on top of them lives in
// a separate deployment unit.
type app struct {
	Submit      *convention.SubmitService
	Renew       *convention.RenewService
	Sign        *convention.SignService
	Status      *convention.StatusService
	Edit        *convention.EditService
	Assessment  *convention.AssessmentService
	Rebroadcast *broadcast.RebroadcastService
	Dispatcher  *broadcast.Dispatcher
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	flags := broadcast.FeatureFlags{
		EnableStandardFormatBroadcastToPartner: envBool("ENABLE_STANDARD_FORMAT_BROADCAST_TO_PARTNER"),
		EnableBroadcastToMissionLocale:         envBool("ENABLE_BROADCAST_TO_MISSION_LOCALE"),
		EnableBroadcastToCapEmploi:             envBool("ENABLE_BROADCAST_TO_CAP_EMPLOI"),
		EnableBroadcastToConseilDepartemental:  envBool("ENABLE_BROADCAST_TO_CONSEIL_DEPARTEMENTAL"),
	}

	factory, err := event.NewFactory()
	if err != nil {
		log.Fatalf("bootstrap event factory: %v", err)
	}
	outbox := event.NewStore(pool)

	ledger := broadcast.NewLedger(pool)
	syncBacklog := resync.NewRepository(pool)
	gateway := broadcast.NewPartnerGateway(broadcast.PartnerGatewayConfig{
		LegacyURL:    os.Getenv("PARTNER_LEGACY_URL"),
		StandardURL:  os.Getenv("PARTNER_STANDARD_URL"),
		APIKey:       os.Getenv("PARTNER_API_KEY"),
		AllowedKinds: flags.AllowedAgencyKinds(),
	}, ledger, syncBacklog, nil)

	orchestrator := broadcast.NewOrchestrator(gateway, flags, nil)
	notifier := broadcast.NewWebhookNotifier(10*time.Second, ledger, nil)
	loader := broadcast.NewRequestLoader(pool)
	consumers := consumer.NewRepository(pool)

	repo := convention.NewRepository()
	submit := convention.NewSubmitService(pool, repo, factory, outbox)
	services := app{
		Submit:      submit,
		Renew:       convention.NewRenewService(pool, repo, submit),
		Sign:        convention.NewSignService(pool, repo, factory, outbox),
		Status:      convention.NewStatusService(pool, repo, factory, outbox),
		Edit:        convention.NewEditService(pool, repo, factory, outbox),
		Assessment:  convention.NewAssessmentService(pool, repo, factory, outbox),
		Rebroadcast: broadcast.NewRebroadcastService(pool, repo, ledger, factory, outbox),
		Dispatcher:  broadcast.NewDispatcher(outbox, loader, orchestrator, notifier, consumers, nil),
	}

	log.Printf("convention services ready, draining outbox")
	services.Dispatcher.Run(ctx, 2*time.Second)
}

func envBool(name string) bool {
	return os.Getenv(name) == "true"
}
