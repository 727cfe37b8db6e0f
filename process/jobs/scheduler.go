// Package jobs runs the periodic maintenance tasks of the server.
package jobs

import (
	"context"
	"time"

	"ponpay/models"
	"ponpay/pkg/ledger"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PurgeSchedule is when expired and revoked sessions are removed.
const PurgeSchedule = "@hourly"

// Scheduler runs the nightly reconciliation and the session purge.
type Scheduler struct {
	cron   *cron.Cron
	db     *gorm.DB
	ledger *ledger.Service
	now    func() time.Time
}

// New returns a scheduler evaluating cron expressions in loc.
func New(db *gorm.DB, svc *ledger.Service, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Scheduler{cron: c, db: db, ledger: svc, now: time.Now}, nil
}

// Start registers the jobs and starts the cron loop. An empty reconcileSpec disables the
// nightly reconciliation.
func (s *Scheduler) Start(ctx context.Context, reconcileSpec string) error {
	if reconcileSpec != "" {
		if _, err := s.cron.AddFunc(reconcileSpec, func() {
			log.Info("[CRON] nightly wallet reconciliation")
			if _, err := s.RunReconcile(ctx); err != nil {
				log.WithError(err).Error("[CRON] reconciliation failed")
			}
		}); err != nil {
			return err
		}
	}
	if _, err := s.cron.AddFunc(PurgeSchedule, func() {
		if _, err := s.PurgeSessions(ctx); err != nil {
			log.WithError(err).Error("[CRON] session purge failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	log.WithField("reconcile", reconcileSpec).Info("scheduler started")
	return nil
}

// Stop waits for running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("scheduler stopped")
}

// RunReconcile reports every wallet and returns how many drifted. Nothing is repaired.
func (s *Scheduler) RunReconcile(ctx context.Context) (int, error) {
	reports, err := s.ledger.ReconcileAll(ctx)
	if err != nil {
		return 0, err
	}
	drifted := 0
	for _, r := range reports {
		if !r.InSync() {
			drifted++
		}
	}
	log.WithFields(log.Fields{"wallets": len(reports), "drifted": drifted}).Info("reconciliation finished")
	return drifted, nil
}

// PurgeSessions deletes sessions that expired or were revoked more than a day ago.
func (s *Scheduler) PurgeSessions(ctx context.Context) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).
		Where("expires_at < ? OR (revoked = ? AND updated_at < ?)", now, true, now.Add(-24*time.Hour)).
		Delete(&models.Session{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.WithField("count", res.RowsAffected).Info("purged sessions")
	}
	return res.RowsAffected, nil
}
