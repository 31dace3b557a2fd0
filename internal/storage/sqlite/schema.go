package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    endpoint TEXT NOT NULL,
    p256dh   TEXT NOT NULL,
    auth     TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_endpoint
    ON subscriptions(endpoint);
`

// initSchema creates the subscriptions table if it does not exist yet.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
