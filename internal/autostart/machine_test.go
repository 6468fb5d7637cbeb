package autostart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/milegazer/internal/models"
)

func TestMachine_FullCycle(t *testing.T) {
	m := NewMachine("", nil)
	assert.Equal(t, models.PhaseIdle, m.Current())

	require.NoError(t, m.Trigger(EventDeviceConnected))
	assert.Equal(t, models.PhaseMonitoring, m.Current())

	require.NoError(t, m.Trigger(EventMovementDetected))
	assert.Equal(t, models.PhaseTracking, m.Current())

	require.NoError(t, m.Trigger(EventDeviceDisconnected))
	assert.Equal(t, models.PhaseStopping, m.Current())

	require.NoError(t, m.Trigger(EventStopTimerFired))
	assert.Equal(t, models.PhaseIdle, m.Current())
}

func TestMachine_ReconnectFromStopping(t *testing.T) {
	m := NewMachine(models.PhaseStopping, nil)

	require.NoError(t, m.Trigger(EventDeviceReconnected))
	assert.Equal(t, models.PhaseTracking, m.Current())
}

func TestMachine_InvalidTransitionsRejected(t *testing.T) {
	m := NewMachine(models.PhaseIdle, nil)

	// idle 只接受设备连接
	assert.False(t, m.Can(EventMovementDetected))
	assert.False(t, m.Can(EventDeviceDisconnected))
	assert.False(t, m.Can(EventStopTimerFired))
	assert.False(t, m.Can(EventReset))
	assert.Error(t, m.Trigger(EventMovementDetected))
	assert.Equal(t, models.PhaseIdle, m.Current())

	// monitoring 不接受断开以外的停止事件
	m = NewMachine(models.PhaseMonitoring, nil)
	assert.False(t, m.Can(EventDeviceConnected))
	assert.False(t, m.Can(EventStopTimerFired))
}

func TestMachine_ResetFromAnyNonIdlePhase(t *testing.T) {
	for _, phase := range []string{models.PhaseMonitoring, models.PhaseTracking, models.PhaseStopping} {
		m := NewMachine(phase, nil)
		require.NoError(t, m.Trigger(EventReset))
		assert.Equal(t, models.PhaseIdle, m.Current())
	}
}

func TestMachine_OnChangeCallback(t *testing.T) {
	var from, to string
	m := NewMachine(models.PhaseIdle, func(f, to2 string) {
		from, to = f, to2
	})

	require.NoError(t, m.Trigger(EventDeviceConnected))
	assert.Equal(t, models.PhaseIdle, from)
	assert.Equal(t, models.PhaseMonitoring, to)
}
