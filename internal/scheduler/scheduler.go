package scheduler

import (
	"context"
	"time"

	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/models"
	"github.com/polyphonica/polyphonica/internal/monitoring"
	"github.com/polyphonica/polyphonica/internal/redis"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type feeSyncer interface {
	SyncFees(ctx context.Context) (int, error)
}

// Scheduler runs the periodic housekeeping: expiring checkouts that were
// never paid, and pulling processor fee figures for paid ones.
type Scheduler struct {
	db     *gorm.DB
	redis  *redis.Client
	fees   feeSyncer
	config *config.Config
	logger zerolog.Logger
}

func New(db *gorm.DB, redisClient *redis.Client, fees feeSyncer, cfg *config.Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		redis:  redisClient,
		fees:   fees,
		config: cfg,
		logger: logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	expiry := time.NewTicker(s.config.SchedulerInterval)
	feeSync := time.NewTicker(s.config.FeeSyncInterval)
	defer expiry.Stop()
	defer feeSync.Stop()

	s.logger.Info().
		Dur("expiryInterval", s.config.SchedulerInterval).
		Dur("feeSyncInterval", s.config.FeeSyncInterval).
		Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-expiry.C:
			s.expirePending(ctx)
		case <-feeSync.C:
			recorded, err := s.fees.SyncFees(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("fee sync failed")
			} else if recorded > 0 {
				s.logger.Info().Int("recorded", recorded).Msg("fee transactions recorded")
			}
		}
	}
}

// expirePending marks pending orders and registrations as expired once the
// checkout window has elapsed, and drops their capacity holds. Safety net
// for the case where neither the success redirect nor the expiry webhook
// landed.
func (s *Scheduler) expirePending(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.CheckoutWindow)

	var orders []models.TicketOrder
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Find(&orders).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to load expired ticket orders")
	} else {
		for i := range orders {
			order := &orders[i]
			if err := s.db.WithContext(ctx).Model(order).Update("status", models.PaymentExpired).Error; err != nil {
				s.logger.Error().Err(err).Str("reference", order.Reference).Msg("failed to expire ticket order")
				continue
			}
			if err := s.redis.ReleaseHold(ctx, redis.HoldConcert, order.ConcertID, order.Reference); err != nil {
				s.logger.Warn().Err(err).Str("reference", order.Reference).Msg("failed to release concert hold")
			}
			monitoring.CheckoutsExpired.WithLabelValues("ticket_order").Inc()
			s.logger.Info().Str("reference", order.Reference).Msg("ticket order expired")
		}
	}

	var registrations []models.Registration
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Find(&registrations).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to load expired registrations")
		return
	}
	for i := range registrations {
		registration := &registrations[i]
		if err := s.db.WithContext(ctx).Model(registration).Update("status", models.PaymentExpired).Error; err != nil {
			s.logger.Error().Err(err).Str("reference", registration.Reference).Msg("failed to expire registration")
			continue
		}
		if err := s.redis.ReleaseHold(ctx, redis.HoldWorkshop, registration.WorkshopID, registration.Reference); err != nil {
			s.logger.Warn().Err(err).Str("reference", registration.Reference).Msg("failed to release workshop hold")
		}
		monitoring.CheckoutsExpired.WithLabelValues("registration").Inc()
		s.logger.Info().Str("reference", registration.Reference).Msg("registration expired")
	}
}
