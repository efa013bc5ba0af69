package cache

import (
	"fmt"
	"time"
)

const (
	// SummaryTTL keeps an unpersisted summary around for the next run.
	SummaryTTL = 24 * time.Hour
	// DefaultLockTTL bounds how long a crashed worker can block an article.
	DefaultLockTTL = 15 * time.Minute
)

// SummaryKey generates Redis key for a produced article summary
func SummaryKey(articleID int64) string {
	return fmt.Sprintf("news:summary:%d", articleID)
}

// LockKey generates Redis key for the per-article processing lock
func LockKey(articleID int64) string {
	return fmt.Sprintf("news:lock:%d", articleID)
}
