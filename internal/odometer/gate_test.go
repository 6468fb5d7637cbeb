package odometer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/milegazer/internal/repository"
	"github.com/langchou/milegazer/internal/store"
)

func TestTierGate_FreeTierBlocked(t *testing.T) {
	prefs := repository.NewPreferenceRepository(store.NewMemoryStore())
	gate := NewTierGate(zap.NewNop(), TierFree, prefs)

	assert.False(t, gate.AutoSyncAllowed(context.Background()))
}

func TestTierGate_PremiumAllowedByDefault(t *testing.T) {
	prefs := repository.NewPreferenceRepository(store.NewMemoryStore())

	// 偏好缺省为开启
	assert.True(t, NewTierGate(zap.NewNop(), TierPremium, prefs).AutoSyncAllowed(context.Background()))
	assert.True(t, NewTierGate(zap.NewNop(), TierPro, prefs).AutoSyncAllowed(context.Background()))
}

func TestTierGate_UserPreferenceBlocks(t *testing.T) {
	ctx := context.Background()
	prefs := repository.NewPreferenceRepository(store.NewMemoryStore())
	require.NoError(t, prefs.SaveSyncPreferences(ctx, &repository.SyncPreferences{AutoSyncEnabled: false}))

	gate := NewTierGate(zap.NewNop(), TierPremium, prefs)
	assert.False(t, gate.AutoSyncAllowed(ctx))

	// 偏好重新打开后即时生效
	require.NoError(t, prefs.SaveSyncPreferences(ctx, &repository.SyncPreferences{AutoSyncEnabled: true}))
	assert.True(t, gate.AutoSyncAllowed(ctx))
}
