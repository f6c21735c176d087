// Package memory holds in-process implementations of the token store and the
// delivery log. State is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eternisai/push-relay/internal/notifications"
)

// TokenStore keeps device tokens in a map guarded by one mutex, which makes
// every operation atomic per recipient.
type TokenStore struct {
	mu         sync.Mutex
	recipients map[string]struct{}
	tokens     map[string]notifications.DeviceToken

	dedupWindow time.Duration
	lifetime    time.Duration
	now         func() time.Time
}

// NewTokenStore creates an empty store.
func NewTokenStore(dedupWindow, lifetime time.Duration) *TokenStore {
	return &TokenStore{
		recipients:  make(map[string]struct{}),
		tokens:      make(map[string]notifications.DeviceToken),
		dedupWindow: dedupWindow,
		lifetime:    lifetime,
		now:         time.Now,
	}
}

// AddRecipient makes recipientID known so tokens can be registered for it.
func (s *TokenStore) AddRecipient(recipientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[recipientID] = struct{}{}
}

func (s *TokenStore) Register(_ context.Context, recipientID, value string, platform notifications.Platform) (notifications.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recipients[recipientID]; !ok {
		return notifications.RegisterResult{}, notifications.ErrUnknownRecipient
	}

	now := s.now()
	current, exists := s.tokens[recipientID]
	if exists && current.Value == value && current.State.Usable() && now.Sub(current.LastValidatedAt) < s.dedupWindow {
		return notifications.RegisterResult{Token: current}, nil
	}

	token := notifications.DeviceToken{
		RecipientID:       recipientID,
		Value:             value,
		Platform:          platform,
		State:             notifications.TokenStateActive,
		RegisteredAt:      now,
		LastValidatedAt:   now,
		EstimatedExpiryAt: now.Add(s.lifetime),
	}
	if exists && current.Value == value && current.State.Usable() {
		token.RegisteredAt = current.RegisteredAt
	}
	s.tokens[recipientID] = token

	return notifications.RegisterResult{Token: token, Written: true}, nil
}

func (s *TokenStore) Lookup(_ context.Context, recipientID string) (notifications.DeviceToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[recipientID]
	return token, ok, nil
}

func (s *TokenStore) Invalidate(_ context.Context, recipientID string, reason notifications.InvalidationReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[recipientID]
	if !ok || token.State == notifications.TokenStateInvalid {
		return false, nil
	}
	if reason.TokenValue != "" && reason.TokenValue != token.Value {
		return false, nil
	}

	now := s.now()
	token.State = notifications.TokenStateInvalid
	token.Value = ""
	token.InvalidReason = reason.Kind
	token.InvalidatedAt = &now
	s.tokens[recipientID] = token

	return true, nil
}

func (s *TokenStore) Touch(_ context.Context, recipientID, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[recipientID]
	if !ok || token.State == notifications.TokenStateInvalid || token.Value != value {
		return false, nil
	}

	now := s.now()
	token.State = notifications.TokenStateActive
	token.LastValidatedAt = now
	token.EstimatedExpiryAt = now.Add(s.lifetime)
	s.tokens[recipientID] = token

	return true, nil
}

func (s *TokenStore) MarkStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, token := range s.tokens {
		if token.State == notifications.TokenStateActive && token.LastValidatedAt.Before(olderThan) {
			token.State = notifications.TokenStateStale
			s.tokens[id] = token
			n++
		}
	}
	return n, nil
}

func (s *TokenStore) ListStale(_ context.Context, olderThan time.Time, limit int) ([]notifications.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []notifications.DeviceToken
	for _, token := range s.tokens {
		if token.State.Usable() && token.LastValidatedAt.Before(olderThan) {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].LastValidatedAt.Before(tokens[j].LastValidatedAt)
	})
	if limit > 0 && len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, nil
}

func (s *TokenStore) Health(_ context.Context) (notifications.TokenHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var health notifications.TokenHealth
	for _, token := range s.tokens {
		switch token.State {
		case notifications.TokenStateActive:
			health.ActiveCount++
		case notifications.TokenStateStale:
			health.StaleCount++
		case notifications.TokenStateInvalid:
			health.InvalidCount++
		}
	}
	return health, nil
}
