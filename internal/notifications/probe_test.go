package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProbeFixture(t *testing.T) (*Probe, *orchestratorFixture) {
	t.Helper()
	f := newOrchestratorFixture(t)
	p := NewProbe(f.store, f.orch, ProbeConfig{
		Schedule:           "@every 1h",
		FreshnessThreshold: 24 * time.Hour,
		BatchLimit:         10,
		Concurrency:        2,
	}, newTestMetrics(), newTestLogger())
	return p, f
}

func TestProbe_RefreshesStaleToken(t *testing.T) {
	p, f := newProbeFixture(t)
	old := time.Now().Add(-48 * time.Hour)
	f.store.put(DeviceToken{
		RecipientID:     "user-1",
		Value:           testFCMToken,
		Platform:        PlatformAndroid,
		State:           TokenStateActive,
		LastValidatedAt: old,
	})

	report, err := p.RunOnce(context.Background(), 24*time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.MarkedStale)
	assert.Equal(t, 1, report.Probed)
	assert.Equal(t, 1, report.Refreshed)

	require.Equal(t, 1, f.gateway.callCount())
	sent := f.gateway.calls[0]
	assert.Equal(t, ModeSilent, sent.Mode)
	assert.Equal(t, ImportanceNormal, sent.Importance)
	assert.Empty(t, sent.Title)
	assert.Empty(t, sent.Body)

	token := f.store.get("user-1")
	assert.Equal(t, TokenStateActive, token.State)
	assert.True(t, token.LastValidatedAt.After(old))
}

func TestProbe_InvalidatesUnregisteredToken(t *testing.T) {
	p, f := newProbeFixture(t)
	f.store.put(DeviceToken{
		RecipientID:     "user-1",
		Value:           testAPNSToken,
		Platform:        PlatformIOS,
		State:           TokenStateStale,
		LastValidatedAt: time.Now().Add(-72 * time.Hour),
	})
	f.gateway.script = []error{NewDeliveryError(KindUnregistered, errors.New("unregistered"))}

	report, err := p.RunOnce(context.Background(), 24*time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, report.MarkedStale)
	assert.Equal(t, 1, report.Invalidated)
	assert.Equal(t, TokenStateInvalid, f.store.get("user-1").State)
	assert.Equal(t, 0, f.escalator.count())
}

func TestProbe_SkipsFreshTokens(t *testing.T) {
	p, f := newProbeFixture(t)
	f.withToken(testFCMToken, PlatformAndroid)

	report, err := p.RunOnce(context.Background(), 24*time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, ProbeReport{}, report)
	assert.Equal(t, 0, f.gateway.callCount())
}

func TestProbe_RespectsBatchLimit(t *testing.T) {
	p, f := newProbeFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.store.put(DeviceToken{
			RecipientID:     id,
			Value:           testFCMToken,
			Platform:        PlatformAndroid,
			State:           TokenStateStale,
			LastValidatedAt: time.Now().Add(-30 * 24 * time.Hour),
		})
	}

	report, err := p.RunOnce(context.Background(), 24*time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Probed)
	assert.Equal(t, 2, f.gateway.callCount())
}

func TestProbe_StartStop(t *testing.T) {
	p, _ := newProbeFixture(t)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(ctx)
	p.Stop(ctx)
}

func TestProbe_InvalidSchedule(t *testing.T) {
	_, f := newProbeFixture(t)
	p := NewProbe(f.store, f.orch, ProbeConfig{Schedule: "not a schedule"}, newTestMetrics(), newTestLogger())

	assert.Error(t, p.Start(context.Background()))
}
