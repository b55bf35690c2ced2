// internal/domain/reservation/sweep.go
package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/your-org/inventory-backend/internal/config"
)

// sweepLockKey is the cross-process leader key for the expiry sweep
const sweepLockKey = "reservation:sweep"

// LeaderLock elects a single sweeper across processes. The redis
// implementation backs this in production; tests use the in-memory one.
type LeaderLock interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Notifier delivers expiry warnings for reservations approaching their
// expiry time
type Notifier interface {
	NotifyExpiring(ctx context.Context, r *Reservation) error
}

// LogNotifier writes expiry warnings to the application log. Stands in until
// a real channel (email, webhook) is wired.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n *LogNotifier) NotifyExpiring(_ context.Context, r *Reservation) error {
	n.Logger.WithFields(logrus.Fields{
		"tenant_id":   r.TenantID,
		"reservation": r.Number,
		"expires_at":  r.ExpiresAt,
	}).Warn("Reservation expiring soon")
	return nil
}

// Sweeper periodically expires overdue reservations and sends expiry
// warnings. Exactly one process sweeps at a time, guarded by the leader
// lock, and each reservation is handled at most once because both queries
// exclude rows already processed.
type Sweeper struct {
	svc      *Service
	repo     Repository
	leader   LeaderLock
	notifier Notifier
	interval time.Duration
	lockTTL  time.Duration
	lead     time.Duration
	logger   *logrus.Logger
}

// NewSweeper creates a new expiry sweeper
func NewSweeper(svc *Service, repo Repository, leader LeaderLock, notifier Notifier, cfg *config.Config, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		repo:     repo,
		leader:   leader,
		notifier: notifier,
		interval: cfg.Reservation.SweepInterval,
		lockTTL:  cfg.Reservation.SweepLockTTL,
		lead:     cfg.Reservation.NotificationLeadTime,
		logger:   logger,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval).Info("Reservation sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	acquired, err := s.leader.TryAcquire(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		s.logger.WithError(err).Warn("Sweep leader election failed")
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.leader.Release(ctx, sweepLockKey); err != nil {
			s.logger.WithError(err).Warn("Failed to release sweep lock")
		}
	}()

	if err := s.Sweep(ctx); err != nil {
		s.logger.WithError(err).Error("Reservation sweep failed")
	}
}

// Sweep runs one pass: expiry warnings first, then expired reservations
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.repo.FindNotificationDue(ctx, now, s.lead)
	if err != nil {
		return err
	}
	for _, res := range due {
		if err := s.notifier.NotifyExpiring(ctx, res); err != nil {
			s.logger.WithError(err).WithField("reservation", res.Number).Warn("Expiry notification failed")
			continue
		}
		sent := now
		res.LastNotificationSent = &sent
		if err := s.repo.SaveReservation(ctx, res); err != nil {
			s.logger.WithError(err).WithField("reservation", res.Number).Warn("Failed to mark notification sent")
		}
	}

	expired, err := s.repo.FindExpired(ctx, now)
	if err != nil {
		return err
	}
	for _, res := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}
		if res.AutoReleaseOnExpiry {
			_, err = s.svc.Cancel(ctx, res.TenantID, res.ID, "expired", 0)
			if errors.Is(err, ErrReservationClosed) {
				// someone else closed it between the query and the lock
				err = nil
			}
		} else {
			err = s.svc.markExpired(ctx, res.TenantID, res.ID)
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":   res.TenantID,
				"reservation": res.Number,
			}).Error("Failed to expire reservation")
		}
	}

	if len(due) > 0 || len(expired) > 0 {
		s.logger.WithFields(logrus.Fields{
			"notified": len(due),
			"expired":  len(expired),
		}).Info("Reservation sweep completed")
	}
	return nil
}
