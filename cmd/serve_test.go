package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/logger"
)

type closingSim struct {
	*hardware.Simulator
	closed int
}

func (c *closingSim) Close() error {
	c.closed++
	return nil
}

func testLockConfig() lock.Config {
	cfg := lock.DefaultConfig()
	cfg.LoopPeriod = time.Millisecond
	cfg.StepDownDelay = 0
	return cfg
}

func TestCloseDevice_IdleSessionReleases(t *testing.T) {
	dev := &closingSim{Simulator: hardware.NewSimulator(hardware.DefaultSimConfig())}
	closeDevice(dev, false, logger.Nop())
	assert.Equal(t, 1, dev.Released())
	assert.Equal(t, 1, dev.closed)
}

func TestServeShutdown_ReleasesOnce(t *testing.T) {
	dev := &closingSim{Simulator: hardware.NewSimulator(hardware.DefaultSimConfig())}
	cfg := testLockConfig()
	ctrl, err := lock.New(cfg, dev)
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background(), cfg.Defaults))
	require.Eventually(t, func() bool { return dev.Sweeps() > 0 }, 2*time.Second, time.Millisecond)

	require.True(t, stopLoop(ctrl, 2*time.Second, logger.Nop()))
	closeDevice(dev, ctrl.Started(), logger.Nop())

	assert.Equal(t, 1, dev.Released())
	assert.Equal(t, 1, dev.closed)
	assert.True(t, stopLoop(ctrl, time.Second, logger.Nop()), "nothing left to stop")
}
