package db

import (
	"context"
	"fmt"

	"sensor-gateway/internal/models"
)

// Init creates the subscriptions table if it does not exist yet.
func (d *DB) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		chat_id BIGINT NOT NULL,
		target  TEXT   NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chat_id, target)
	)`
	if _, err := d.Pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create subscriptions table: %w", err)
	}
	return nil
}

// Save upserts one subscription. Saving an existing pair is a no-op,
// matching the registry's set semantics.
func (d *DB) Save(ctx context.Context, sub models.Subscription) error {
	query := `
	INSERT INTO subscriptions (chat_id, target)
	VALUES ($1, $2)
	ON CONFLICT (chat_id, target) DO NOTHING`
	if _, err := d.Pool.Exec(ctx, query, sub.ChatID, sub.Target); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// Delete removes one subscription; deleting a missing pair is a no-op.
func (d *DB) Delete(ctx context.Context, sub models.Subscription) error {
	query := `DELETE FROM subscriptions WHERE chat_id = $1 AND target = $2`
	if _, err := d.Pool.Exec(ctx, query, sub.ChatID, sub.Target); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// LoadAll returns every stored subscription.
func (d *DB) LoadAll(ctx context.Context) ([]models.Subscription, error) {
	query := `SELECT chat_id, target FROM subscriptions`
	rows, err := d.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ChatID, &sub.Target); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return subs, nil
}
