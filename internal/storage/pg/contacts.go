package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eternisai/push-relay/internal/fallback"
)

// Recipients reads and seeds the users table.
type Recipients struct {
	db *sql.DB
}

func NewRecipients(db *sql.DB) *Recipients {
	return &Recipients{db: db}
}

// Resolve implements fallback.ContactResolver.
func (r *Recipients) Resolve(ctx context.Context, recipientID string) (fallback.Contact, error) {
	c := fallback.Contact{RecipientID: recipientID}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, phone, locale FROM users WHERE id = $1`, recipientID).
		Scan(&c.Email, &c.Phone, &c.Locale)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback.Contact{}, fallback.ErrContactNotFound
	}
	if err != nil {
		return fallback.Contact{}, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// Upsert creates or updates a recipient.
func (r *Recipients) Upsert(ctx context.Context, c fallback.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, phone, locale) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, phone = EXCLUDED.phone, locale = EXCLUDED.locale`,
		c.RecipientID, c.Email, c.Phone, c.Locale)
	if err != nil {
		return fmt.Errorf("failed to upsert recipient: %w", err)
	}
	return nil
}
