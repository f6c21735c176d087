package notifications

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eternisai/push-relay/internal/logger"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelDebug, Output: io.Discard})
}

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// fakeStore is a minimal TokenStore keyed by recipient.
type fakeStore struct {
	mu         sync.Mutex
	recipients map[string]bool
	tokens     map[string]DeviceToken
	touches    int
	lookupErr  error
	now        func() time.Time
}

func newFakeStore(recipients ...string) *fakeStore {
	s := &fakeStore{
		recipients: make(map[string]bool),
		tokens:     make(map[string]DeviceToken),
		now:        time.Now,
	}
	for _, r := range recipients {
		s.recipients[r] = true
	}
	return s
}

func (s *fakeStore) put(t DeviceToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[t.RecipientID] = true
	s.tokens[t.RecipientID] = t
}

func (s *fakeStore) get(recipientID string) DeviceToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[recipientID]
}

func (s *fakeStore) Register(_ context.Context, recipientID, value string, platform Platform) (RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recipients[recipientID] {
		return RegisterResult{}, ErrUnknownRecipient
	}
	now := s.now()
	if cur, ok := s.tokens[recipientID]; ok && cur.Value == value && cur.State.Usable() && now.Sub(cur.LastValidatedAt) < time.Hour {
		return RegisterResult{Token: cur}, nil
	}
	t := DeviceToken{
		RecipientID:     recipientID,
		Value:           value,
		Platform:        platform,
		State:           TokenStateActive,
		RegisteredAt:    now,
		LastValidatedAt: now,
	}
	s.tokens[recipientID] = t
	return RegisterResult{Token: t, Written: true}, nil
}

func (s *fakeStore) Lookup(_ context.Context, recipientID string) (DeviceToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return DeviceToken{}, false, s.lookupErr
	}
	t, ok := s.tokens[recipientID]
	return t, ok, nil
}

func (s *fakeStore) Invalidate(_ context.Context, recipientID string, reason InvalidationReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[recipientID]
	if !ok || t.State == TokenStateInvalid {
		return false, nil
	}
	if reason.TokenValue != "" && reason.TokenValue != t.Value {
		return false, nil
	}
	now := s.now()
	t.State = TokenStateInvalid
	t.Value = ""
	t.InvalidReason = reason.Kind
	t.InvalidatedAt = &now
	s.tokens[recipientID] = t
	return true, nil
}

func (s *fakeStore) Touch(_ context.Context, recipientID, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[recipientID]
	if !ok || t.State == TokenStateInvalid || t.Value != value {
		return false, nil
	}
	s.touches++
	t.State = TokenStateActive
	t.LastValidatedAt = s.now()
	s.tokens[recipientID] = t
	return true, nil
}

func (s *fakeStore) MarkStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tokens {
		if t.State == TokenStateActive && t.LastValidatedAt.Before(olderThan) {
			t.State = TokenStateStale
			s.tokens[id] = t
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListStale(_ context.Context, olderThan time.Time, limit int) ([]DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeviceToken
	for _, t := range s.tokens {
		if t.State.Usable() && t.LastValidatedAt.Before(olderThan) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastValidatedAt.Before(out[j].LastValidatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Health(_ context.Context) (TokenHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var h TokenHealth
	for _, t := range s.tokens {
		switch t.State {
		case TokenStateActive:
			h.ActiveCount++
		case TokenStateStale:
			h.StaleCount++
		case TokenStateInvalid:
			h.InvalidCount++
		}
	}
	return h, nil
}

// fakeLog records attempts in memory.
type fakeLog struct {
	mu       sync.Mutex
	attempts []DeliveryAttempt
}

func (l *fakeLog) Record(_ context.Context, a DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
	return nil
}

func (l *fakeLog) RecentFailures(_ context.Context, limit int) ([]DeliveryAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []DeliveryAttempt
	for i := len(l.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if l.attempts[i].Outcome != OutcomeSuccess {
			out = append(out, l.attempts[i])
		}
	}
	return out, nil
}

func (l *fakeLog) all() []DeliveryAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DeliveryAttempt(nil), l.attempts...)
}

// fakeGateway answers calls from a scripted list of errors; once the script is
// exhausted every call succeeds.
type fakeGateway struct {
	mu     sync.Mutex
	script []error
	calls  []NotificationMessage
	tokens []string
	// onSend runs before the scripted answer.
	onSend func(ctx context.Context, call int) error
}

func (g *fakeGateway) Send(ctx context.Context, token DeviceToken, msg NotificationMessage) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, msg)
	g.tokens = append(g.tokens, token.Value)
	call := len(g.calls)
	var err error
	if call <= len(g.script) {
		err = g.script[call-1]
	}
	hook := g.onSend
	g.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx, call); hookErr != nil {
			return "", hookErr
		}
	}
	if err != nil {
		return "", err
	}
	return "projects/test/messages/" + msg.ID, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// fakeEscalator counts escalations.
type fakeEscalator struct {
	mu      sync.Mutex
	accept  bool
	reasons []ErrorKind
}

func (e *fakeEscalator) Escalate(_ context.Context, _ string, _ NotificationMessage, reason ErrorKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reasons = append(e.reasons, reason)
	return e.accept
}

func (e *fakeEscalator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reasons)
}

var testRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     time.Millisecond,
	MaxDelay:      5 * time.Millisecond,
	JitterPercent: 10,
}

type orchestratorFixture struct {
	store     *fakeStore
	gateway   *fakeGateway
	log       *fakeLog
	escalator *fakeEscalator
	orch      *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{
		store:     newFakeStore("user-1"),
		gateway:   &fakeGateway{},
		log:       &fakeLog{},
		escalator: &fakeEscalator{accept: true},
	}
	f.orch = NewOrchestrator(OrchestratorConfig{
		Store:          f.store,
		Gateway:        f.gateway,
		Log:            f.log,
		Escalator:      f.escalator,
		Retry:          testRetryPolicy,
		GatewayTimeout: time.Second,
		Metrics:        newTestMetrics(),
		Logger:         newTestLogger(),
	})
	return f
}

func (f *orchestratorFixture) withToken(value string, platform Platform) {
	now := time.Now()
	f.store.put(DeviceToken{
		RecipientID:     "user-1",
		Value:           value,
		Platform:        platform,
		State:           TokenStateActive,
		RegisteredAt:    now,
		LastValidatedAt: now.Add(-time.Minute),
	})
}

func alertMessage(importance Importance) NotificationMessage {
	return NotificationMessage{
		ID:          "msg-1",
		RecipientID: "user-1",
		Title:       "Arrived",
		Body:        "Alex arrived at school",
		Importance:  importance,
		Mode:        ModeAlert,
	}
}
