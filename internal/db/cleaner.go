package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartExpiredSessionSweeper deactivates expired sessions with interval
func StartExpiredSessionSweeper(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := db.ExecContext(ctx, `
                    UPDATE sessions
                       SET is_active = FALSE,
                           revoked_reason = 'expired'
                     WHERE is_active = TRUE
                       AND expires_at <= now()
                `)
				if err != nil {
					log.Error("failed to sweep expired sessions", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("swept expired sessions", zap.Int64("expired", rows))
				}
			}
		}
	}()
}

// StartResetTokenSweeper deletes dead password-reset tokens with interval.
// A token is dead once it is expired, used, or revoked; retention keeps
// the rows around for a while for audit.
func StartResetTokenSweeper(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				res, err := db.ExecContext(ctx, `
                    DELETE FROM password_reset_tokens
                     WHERE (expires_at <= $1 OR used_at IS NOT NULL OR revoked_at IS NOT NULL)
                       AND created_at <= $1
                `, cutoff)
				if err != nil {
					log.Error("failed to clean reset tokens", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("cleaned reset tokens", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
