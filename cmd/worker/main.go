// cmd/worker/main.go
//
// The worker consumes async dispatch jobs from RabbitMQ and drives the
// scheduler tick on a cron, so queued messages and due enrollments keep
// moving even when nobody calls the HTTP tick endpoint.
package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sendfox/sendfox-backend/internal/config"
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

	c := cron.New()
	if _, err := c.AddFunc(cfg.TickSchedule, func() {
		result, err := tick.RunTick(context.Background())
		if err != nil {
			log.WithError(err).Error("tick failed")
			return
		}
		if result.QueuedProcessed > 0 || result.EnrollmentsAdvanced > 0 {
			log.WithFields(log.Fields{
				"queued_processed":     result.QueuedProcessed,
				"enrollments_advanced": result.EnrollmentsAdvanced,
			}).Info("tick completed")
		}
	}); err != nil {
		log.WithError(err).Fatal("invalid tick schedule")
	}
	c.Start()
	defer c.Stop()

	log.Info("worker running, waiting for dispatch jobs")
	err = q.Consume(func(job queue.DispatchJob) error {
		campaign, err := campaignRepo.GetByID(job.CampaignID)
		if err != nil {
			return err
		}
		for progress := range dispatch.Dispatch(context.Background(), campaign, job.Recipients) {
			log.WithFields(log.Fields{
				"campaign_id": campaign.ID,
				"recipient":   progress.Recipient,
				"outcome":     progress.Outcome,
				"processed":   progress.Processed,
				"total":       progress.Total,
			}).Info("dispatched")
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Fatal("consumer stopped")
	}
}
