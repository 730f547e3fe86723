// Package retention periodically drops state that has outlived its window.
package retention

import (
	"context"
	"time"

	"github.com/sdko-org/outfit-relay/internal/models"
	"github.com/sdko-org/outfit-relay/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sweeper drops in-memory entries that are stale at now and reports how many
// it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweepFunc adapts a function to Sweeper.
type SweepFunc func(now time.Time) int

func (f SweepFunc) Sweep(now time.Time) int { return f(now) }

type Purger struct {
	logger    *logrus.Logger
	db        *gorm.DB
	archive   storage.Archive
	sweepers  map[string]Sweeper
	retention time.Duration
	interval  time.Duration
}

// NewPurger builds a purger. db may be nil, in which case only the sweepers
// run.
func NewPurger(logger *logrus.Logger, db *gorm.DB, archive storage.Archive, retention, interval time.Duration) *Purger {
	if archive == nil {
		archive = storage.NoopArchive{}
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Purger{
		logger:    logger,
		db:        db,
		archive:   archive,
		sweepers:  make(map[string]Sweeper),
		retention: retention,
		interval:  interval,
	}
}

// AddSweeper registers an in-memory store to be swept on every tick. Must be
// called before Start.
func (p *Purger) AddSweeper(name string, s Sweeper) {
	p.sweepers[name] = s
}

func (p *Purger) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logEntry := p.logger.WithField("component", "retention_purger")
	logEntry.WithField("interval", p.interval).Info("Starting retention purger")

	for {
		select {
		case now := <-ticker.C:
			p.Purge(ctx, now)
		case <-ctx.Done():
			logEntry.Info("Stopping retention purger")
			return
		}
	}
}

// Purge runs one pass at now.
func (p *Purger) Purge(ctx context.Context, now time.Time) {
	log := p.logger.WithFields(logrus.Fields{
		"component": "retention_purger",
		"operation": "purge",
	})

	for name, s := range p.sweepers {
		if removed := s.Sweep(now); removed > 0 {
			log.WithFields(logrus.Fields{"sweeper": name, "count": removed}).Debug("Swept idle entries")
		}
	}

	if p.db == nil || p.retention <= 0 {
		return
	}
	cutoff := now.Add(-p.retention)

	res := p.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.AccessLog{})
	if res.Error != nil {
		log.WithError(res.Error).Error("Access log purge failed")
	} else if res.RowsAffected > 0 {
		log.WithField("count", res.RowsAffected).Info("Purged access log rows")
	}

	var snapshots []models.SnapshotRecord
	if err := p.db.WithContext(ctx).Where("stored_at < ?", cutoff).Find(&snapshots).Error; err != nil {
		log.WithError(err).Error("Snapshot purge query failed")
		return
	}

	for _, record := range snapshots {
		if record.Archived {
			if err := p.archive.Delete(ctx, record.Key); err != nil {
				log.WithFields(logrus.Fields{"key": record.Key, "error": err}).Error("Failed to delete archived snapshot")
				continue
			}
		}
		if err := p.db.WithContext(ctx).Delete(&record).Error; err != nil {
			log.WithFields(logrus.Fields{"key": record.Key, "error": err}).Error("Failed to delete snapshot record")
		}
	}
	if len(snapshots) > 0 {
		log.WithField("count", len(snapshots)).Info("Purged expired snapshots")
	}
}
