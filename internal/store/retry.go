package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"carwash-backend/internal/apperr"
)

// transientMarkers are driver error fragments that indicate contention rather
// than a permanent failure.
var transientMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"sqlstate 40001", // serialization_failure
	"sqlstate 40p01", // deadlock_detected
	"could not serialize access",
	"deadlock detected",
}

// IsTransient reports whether err looks like storage contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to maxAttempts times while it fails with a transient
// error, backing off linearly. Exhausted retries are wrapped in
// apperr.ErrTransientStorage; other errors are returned unchanged.
func (s *gormStore) withRetry(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn(s.db.WithContext(ctx))
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}

		s.log.Warn("transient storage error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", apperr.ErrTransientStorage, op, s.maxAttempts, err)
}
