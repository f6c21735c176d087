package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/eternisai/push-relay/internal/notifications"
)

const pgForeignKeyViolation = "23503"

const tokenColumns = `recipient_id, value, platform, state, registered_at, last_validated_at,
	estimated_expiry_at, invalid_reason, invalidated_at`

// TokenStoreConfig holds the token lifecycle windows.
type TokenStoreConfig struct {
	// DedupWindow suppresses rewrites of an unchanged, recently validated token.
	DedupWindow time.Duration
	// Lifetime estimates how long a token stays valid after validation.
	Lifetime time.Duration
}

// TokenStore keeps one device token row per recipient. Every mutation is a
// single statement, so updates for one recipient are atomic.
type TokenStore struct {
	db  *sql.DB
	cfg TokenStoreConfig
	now func() time.Time
}

// NewTokenStore creates a Postgres-backed token store.
func NewTokenStore(db *sql.DB, cfg TokenStoreConfig) *TokenStore {
	return &TokenStore{db: db, cfg: cfg, now: time.Now}
}

func (s *TokenStore) Register(ctx context.Context, recipientID, value string, platform notifications.Platform) (notifications.RegisterResult, error) {
	now := s.now().UTC()

	// The WHERE clause makes the upsert a no-op when the stored token is the same,
	// usable and validated inside the dedup window.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO device_tokens (recipient_id, value, platform, state, registered_at,
			last_validated_at, estimated_expiry_at, invalid_reason, invalidated_at)
		VALUES ($1, $2, $3, 'active', $4, $4, $5, NULL, NULL)
		ON CONFLICT (recipient_id) DO UPDATE SET
			value = EXCLUDED.value,
			platform = EXCLUDED.platform,
			state = 'active',
			registered_at = CASE
				WHEN device_tokens.value = EXCLUDED.value AND device_tokens.state <> 'invalid'
				THEN device_tokens.registered_at
				ELSE EXCLUDED.registered_at
			END,
			last_validated_at = EXCLUDED.last_validated_at,
			estimated_expiry_at = EXCLUDED.estimated_expiry_at,
			invalid_reason = NULL,
			invalidated_at = NULL
		WHERE device_tokens.value <> EXCLUDED.value
			OR device_tokens.state = 'invalid'
			OR device_tokens.last_validated_at < $6
		RETURNING `+tokenColumns,
		recipientID, value, string(platform), now, now.Add(s.cfg.Lifetime), now.Add(-s.cfg.DedupWindow))

	token, err := scanToken(row)
	if err == nil {
		return notifications.RegisterResult{Token: token, Written: true}, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
		return notifications.RegisterResult{}, notifications.ErrUnknownRecipient
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return notifications.RegisterResult{}, fmt.Errorf("failed to upsert device token: %w", err)
	}

	// Deduplicated: hand back what is stored.
	token, found, err := s.Lookup(ctx, recipientID)
	if err != nil {
		return notifications.RegisterResult{}, err
	}
	if !found {
		return notifications.RegisterResult{}, fmt.Errorf("device token for %s vanished during registration", recipientID)
	}
	return notifications.RegisterResult{Token: token}, nil
}

func (s *TokenStore) Lookup(ctx context.Context, recipientID string) (notifications.DeviceToken, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM device_tokens WHERE recipient_id = $1`, recipientID)

	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notifications.DeviceToken{}, false, nil
	}
	if err != nil {
		return notifications.DeviceToken{}, false, fmt.Errorf("failed to get device token: %w", err)
	}
	return token, true, nil
}

func (s *TokenStore) Invalidate(ctx context.Context, recipientID string, reason notifications.InvalidationReason) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_tokens
		SET state = 'invalid', value = '', invalid_reason = $2, invalidated_at = $3
		WHERE recipient_id = $1
			AND state <> 'invalid'
			AND ($4 = '' OR value = $4)`,
		recipientID, string(reason.Kind), s.now().UTC(), reason.TokenValue)
	if err != nil {
		return false, fmt.Errorf("failed to invalidate device token: %w", err)
	}
	return affected(res)
}

func (s *TokenStore) Touch(ctx context.Context, recipientID, value string) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_tokens
		SET state = 'active', last_validated_at = $3, estimated_expiry_at = $4
		WHERE recipient_id = $1 AND value = $2 AND state <> 'invalid'`,
		recipientID, value, now, now.Add(s.cfg.Lifetime))
	if err != nil {
		return false, fmt.Errorf("failed to touch device token: %w", err)
	}
	return affected(res)
}

func (s *TokenStore) MarkStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_tokens SET state = 'stale'
		WHERE state = 'active' AND last_validated_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func (s *TokenStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]notifications.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM device_tokens
		WHERE state IN ('active', 'stale') AND last_validated_at < $1
		ORDER BY last_validated_at ASC
		LIMIT $2`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tokens: %w", err)
	}
	defer rows.Close()

	var tokens []notifications.DeviceToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (s *TokenStore) Health(ctx context.Context) (notifications.TokenHealth, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM device_tokens GROUP BY state`)
	if err != nil {
		return notifications.TokenHealth{}, fmt.Errorf("failed to count device tokens: %w", err)
	}
	defer rows.Close()

	var health notifications.TokenHealth
	for rows.Next() {
		var (
			state string
			count int64
		)
		if err := rows.Scan(&state, &count); err != nil {
			return notifications.TokenHealth{}, fmt.Errorf("failed to scan token count: %w", err)
		}
		switch notifications.TokenState(state) {
		case notifications.TokenStateActive:
			health.ActiveCount = count
		case notifications.TokenStateStale:
			health.StaleCount = count
		case notifications.TokenStateInvalid:
			health.InvalidCount = count
		}
	}
	return health, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (notifications.DeviceToken, error) {
	var (
		t             notifications.DeviceToken
		platform      string
		state         string
		invalidReason sql.NullString
		invalidatedAt sql.NullTime
	)
	err := row.Scan(&t.RecipientID, &t.Value, &platform, &state, &t.RegisteredAt,
		&t.LastValidatedAt, &t.EstimatedExpiryAt, &invalidReason, &invalidatedAt)
	if err != nil {
		return notifications.DeviceToken{}, err
	}

	t.Platform = notifications.Platform(platform)
	t.State = notifications.TokenState(state)
	if invalidReason.Valid {
		t.InvalidReason = notifications.ErrorKind(invalidReason.String)
	}
	if invalidatedAt.Valid {
		at := invalidatedAt.Time
		t.InvalidatedAt = &at
	}
	return t, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
