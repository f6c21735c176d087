package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eternisai/push-relay/internal/notifications"
)

// DeliveryLog appends delivery attempts to the delivery_attempts table. Only a
// prefix of the token is stored.
type DeliveryLog struct {
	db *sql.DB
}

func NewDeliveryLog(db *sql.DB) *DeliveryLog {
	return &DeliveryLog{db: db}
}

func (l *DeliveryLog) Record(ctx context.Context, a notifications.DeliveryAttempt) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (message_id, submission_id, recipient_id, token_prefix,
			attempt_number, outcome, kind, platform, gateway_message_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.MessageID, a.SubmissionID, a.RecipientID, tokenPrefix(a),
		a.AttemptNumber, string(a.Outcome), string(a.Kind), string(a.Platform),
		a.GatewayMessageID, a.Error, a.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert delivery attempt: %w", err)
	}
	return nil
}

func (l *DeliveryLog) RecentFailures(ctx context.Context, limit int) ([]notifications.DeliveryAttempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT message_id, submission_id, recipient_id, attempt_number, outcome, kind,
			platform, gateway_message_id, error, created_at
		FROM delivery_attempts
		WHERE outcome <> 'success'
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery failures: %w", err)
	}
	defer rows.Close()

	var attempts []notifications.DeliveryAttempt
	for rows.Next() {
		var (
			a                       notifications.DeliveryAttempt
			outcome, kind, platform string
		)
		if err := rows.Scan(&a.MessageID, &a.SubmissionID, &a.RecipientID, &a.AttemptNumber,
			&outcome, &kind, &platform, &a.GatewayMessageID, &a.Error, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		a.Outcome = notifications.Outcome(outcome)
		a.Kind = notifications.ErrorKind(kind)
		a.Platform = notifications.Platform(platform)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func tokenPrefix(a notifications.DeliveryAttempt) string {
	if a.TokenValue == "" {
		return ""
	}
	return a.TokenPrefix()
}
