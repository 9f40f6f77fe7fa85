// cmd/server/main.go
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sendfox/sendfox-backend/internal/config"
	"github.com/sendfox/sendfox-backend/internal/controller"
	"github.com/sendfox/sendfox-backend/internal/db"
	"github.com/sendfox/sendfox-backend/internal/queue"
	"github.com/sendfox/sendfox-backend/internal/repository"
	"github.com/sendfox/sendfox-backend/internal/service"
	"github.com/sendfox/sendfox-backend/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db.Init(cfg.DatabaseURL)

	identityRepo := &repository.IdentityRepository{DB: db.DB}
	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	sequenceRepo := &repository.SequenceRepository{DB: db.DB}
	trackingRepo := &repository.TrackingRepository{DB: db.DB}

	pool := &service.IdentityPoolService{IdentityRepo: identityRepo}
	dispatch := &service.DispatchService{
		CampaignRepo: campaignRepo,
		Pool:         pool,
		NewSender:    transport.New,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.SendsPerSec), 1),
		MaxAttempts:  cfg.MaxAttempts,
		SendTimeout:  cfg.SendTimeout,
	}
	tracking := &service.TrackingService{
		TrackingRepo: trackingRepo,
		BaseURL:      cfg.TrackingBaseURL,
	}
	enrollment := &service.EnrollmentService{
		SequenceRepo: sequenceRepo,
		TrackingRepo: trackingRepo,
		Tracking:     tracking,
		Dispatch:     dispatch,
	}
	tick := &service.TickService{
		CampaignRepo: campaignRepo,
		SequenceRepo: sequenceRepo,
		Dispatch:     dispatch,
		Enrollment:   enrollment,
		BatchSize:    cfg.TickBatch,
	}

	q, err := queue.NewAMQPQueue(cfg.AMQPURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to RabbitMQ")
	}
	defer q.Close()

	identityController := &controller.IdentityController{IdentityRepo: identityRepo, Pool: pool}
	campaignController := &controller.CampaignController{CampaignRepo: campaignRepo, Dispatch: dispatch, Queue: q}
	sequenceController := &controller.SequenceController{SequenceRepo: sequenceRepo, Enrollment: enrollment}
	trackingController := &controller.TrackingController{Tracking: tracking, Tick: tick}

	r := chi.NewRouter()

	// Identity pool
	r.Post("/identities", identityController.CreateIdentity)
	r.Get("/identities", identityController.ListIdentities)
	r.Put("/identities/{id}", identityController.UpdateIdentity)
	r.Post("/identities/{id}/verify", identityController.VerifyIdentity)
	r.Put("/identities/reorder", identityController.ReorderIdentities)

	// Campaigns
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/send", campaignController.SendCampaign)
	r.Post("/campaigns/{id}/send-async", campaignController.SendCampaignAsync)
	r.Post("/campaigns/{id}/stop", campaignController.StopCampaign)

	// Sequences
	r.Post("/sequences", sequenceController.CreateSequence)
	r.Get("/sequences", sequenceController.ListSequences)
	r.Get("/sequences/{id}", sequenceController.GetSequence)
	r.Post("/sequences/{id}/enrollments", sequenceController.CreateEnrollment)
	r.Post("/enrollments/{enrollmentID}/stop", sequenceController.StopEnrollment)

	// Tracking + scheduler
	r.Get("/t/{token}", trackingController.RecordAction)
	r.Post("/tick", trackingController.RunTick)

	log.WithField("addr", cfg.ListenAddr).Info("server running")
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, r))
}
