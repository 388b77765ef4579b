package datastore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	cleanupInterval = time.Hour
	cleanupTimeout  = 30 * time.Second
)

// Cleanup prunes history rows older than the retention window.
type Cleanup struct {
	repo NotificationRepository
	log  *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
}

func NewCleanup(repo NotificationRepository, log *zap.Logger) *Cleanup {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cleanup{repo: repo, log: log}
}

// Start launches the periodic cleanup goroutine. A retention of zero or
// less disables pruning. Restarting replaces the previous goroutine.
func (c *Cleanup) Start(retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	c.Stop()
	c.mu.Lock()
	c.stop = make(chan struct{})
	stopCh := c.stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.runOnce(retentionDays)
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop signals the cleanup goroutine to exit. The mutex makes the
// nil-check-then-close atomic so Stop and Start cannot double-close.
func (c *Cleanup) Stop() {
	c.mu.Lock()
	ch := c.stop
	c.stop = nil
	c.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (c *Cleanup) runOnce(retentionDays int) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	deleted, err := c.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		c.log.Error("notification history cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		c.log.Info("notification history cleanup completed",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", retentionDays))
	}
}
