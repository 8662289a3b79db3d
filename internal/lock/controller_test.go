package lock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transfer_cavity_lock/internal/fit"
	"transfer_cavity_lock/internal/hardware"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"laser range reversed", func(c *Config) { c.LaserMin, c.LaserMax = 10, -10 }},
		{"cavity range empty", func(c *Config) { c.CavityMax = c.CavityMin }},
		{"zero fit width", func(c *Config) { c.LaserFitWidth = 0 }},
		{"no iterations", func(c *Config) { c.FitIterations = 0 }},
		{"no step down", func(c *Config) { c.StepDownSteps = 0 }},
		{"no queue", func(c *Config) { c.CommandQueue = 0 }},
		{"negative scan width", func(c *Config) { c.Defaults.ScanWidth = -0.3 }},
		{"zero steps", func(c *Config) { c.Defaults.Steps = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfig)

			_, err := New(cfg, hardware.NewSimulator(hardware.DefaultSimConfig()))
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "LASERLOCKED", LaserLocked.String())
	assert.Equal(t, "State(9)", State(9).String())

	var st Status
	require.NoError(t, json.Unmarshal([]byte(`{"state":"CAVITYSTABILIZED"}`), &st))
	assert.Equal(t, CavityStabilized, st.State)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"LOCKED"}`), &st))
}

func TestFreeRunning_RecordsTracesOnlyWhenObserved(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	r := f.newRun(t, FreeRunning)
	require.NoError(t, f.ctrl.iterate(context.Background(), r))
	assert.True(t, r.params.Record)
	assert.NotEqual(t, make([]float64, len(r.params.Voltages())), f.ctrl.Snapshot().Traces.Cavity)

	bare, err := New(f.cfg, f.dev, WithFitter(f.fitter))
	require.NoError(t, err)
	r = f.newRun(t, FreeRunning)
	require.NoError(t, bare.iterate(context.Background(), r))
	assert.False(t, r.params.Record)
	assert.Equal(t, make([]float64, len(r.params.Voltages())), bare.Snapshot().Traces.Cavity)

	r = f.newRun(t, CavityStabilized)
	require.NoError(t, bare.iterate(context.Background(), r))
	assert.True(t, r.params.Record, "fitting needs the traces")
}

func TestRecenter_MovesWindowOntoCavityPeak(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	r := f.newRun(t, CavityStabilized)

	require.NoError(t, f.ctrl.iterate(context.Background(), r))

	assert.InDelta(t, 3.02-0.15, r.params.Low(), 1e-12)
	assert.InDelta(t, 3.02+0.15, r.params.High(), 1e-12)
	assert.InDelta(t, 0.3/100, r.params.StepSize(), 1e-12)
	assert.Equal(t, 3.02, r.params.SetPoint)
	require.NotNil(t, r.cavityFit)
	assert.Nil(t, r.laserFit)
}

func TestImplausibleCavityFit_LeavesStateUnchanged(t *testing.T) {
	for _, state := range []State{CavityStabilized, LaserLocking, LaserLocked} {
		t.Run(state.String(), func(t *testing.T) {
			f := newFixture(t, []float64{7.0}, []float64{3.10})
			r := f.newRun(t, state)
			r.setPoint = 0.08
			r.params.SetPoint = 3.0
			before := r.params.View()

			require.NoError(t, f.ctrl.iterate(context.Background(), r))

			assert.Equal(t, before, r.params.View())
			assert.Equal(t, 0.08, r.setPoint)
			assert.Zero(t, r.deviation)
			assert.Contains(t, f.obs.noticeKinds(), NoticeFitImplausible)
			assert.Equal(t, state, f.ctrl.State())
			if state == LaserLocking {
				assert.Contains(t, f.obs.noticeKinds(), NoticeLockDeferred)
			} else {
				assert.NotContains(t, f.obs.noticeKinds(), NoticeLockDeferred)
			}
		})
	}
}

func TestLaserLocking_MeasuresSetPoint(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	r := f.newRun(t, LaserLocking)

	require.NoError(t, f.ctrl.iterate(context.Background(), r))

	assert.Equal(t, 0.08, r.setPoint)
	assert.Equal(t, LaserLocked, f.ctrl.State())
	assert.Empty(t, f.dev.LaserHistory(), "locking does not touch the laser")
}

func TestLaserLocking_ImplausibleLaserFitGivesZeroSetPoint(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{-1})
	r := f.newRun(t, LaserLocking)
	r.setPoint = 0.05

	require.NoError(t, f.ctrl.iterate(context.Background(), r))

	assert.Equal(t, 0.0, r.setPoint)
	assert.Equal(t, LaserLocked, f.ctrl.State())
}

func TestLaserLocked_AppliesFeedback(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.105})
	r := f.newRun(t, LaserLocked)
	r.setPoint = 0.08
	r.laser = 1.0
	r.settings.Gain = 0.5

	require.NoError(t, f.ctrl.iterate(context.Background(), r))

	assert.Equal(t, 0.005, r.deviation)
	assert.Equal(t, 0.9975, r.laser)
	assert.Equal(t, []float64{0.9975}, f.dev.LaserHistory())
}

func TestLaserLocked_TweakIsConsumedOnce(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	r := f.newRun(t, LaserLocked)
	r.setPoint = 0.08
	Tweak{Increments: 5, Decrements: 2}.apply(r)

	require.NoError(t, f.ctrl.iterate(context.Background(), r))
	assert.Zero(t, r.increments)
	assert.Zero(t, r.decrements)
	assert.InDelta(t, 0.083, r.setPoint, 1e-12)

	require.NoError(t, f.ctrl.iterate(context.Background(), r))
	assert.InDelta(t, 0.083, r.setPoint, 1e-12)
}

func TestLaserLocked_HoldsVoltageOutsideRange(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.60})
	r := f.newRun(t, LaserLocked)
	r.setPoint = 0.08
	r.laser = 9.9
	r.settings.Gain = -100

	require.NoError(t, f.ctrl.iterate(context.Background(), r))

	assert.Equal(t, 9.9, r.laser)
	assert.Contains(t, f.obs.noticeKinds(), NoticeRangeViolation)
}

func TestFreeRunning_StepsToManualVoltage(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	r := f.newRun(t, FreeRunning)
	SetLaserVoltage{Volts: 2}.apply(r)

	require.NoError(t, f.ctrl.iterate(context.Background(), r))

	h := f.dev.LaserHistory()
	require.Len(t, h, f.cfg.StepDownSteps)
	assert.Equal(t, 2.0, h[len(h)-1])
	assert.InDelta(t, 2.0/float64(f.cfg.StepDownSteps), h[0], 1e-12)
	assert.Nil(t, r.target)
}

func TestLocked_IgnoresManualVoltage(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	r := f.newRun(t, LaserLocked)
	r.setPoint = 0.08
	SetLaserVoltage{Volts: 2}.apply(r)

	require.NoError(t, f.ctrl.iterate(context.Background(), r))

	assert.Equal(t, []float64{0}, f.dev.LaserHistory())
	assert.Contains(t, f.obs.noticeKinds(), NoticeCommandIgnored)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})

	assert.ErrorIs(t, f.ctrl.Submit(SetGain{Gain: 1}), ErrNotRunning)
	assert.ErrorIs(t, f.ctrl.EngageLock(), ErrNotRunning)
	assert.ErrorIs(t, f.ctrl.StopRamp(), ErrNotRunning)
	assert.ErrorIs(t, f.ctrl.Submit(SetSteps{Steps: 0}), ErrConfig)
	assert.ErrorIs(t, f.ctrl.Submit(SetLaserVoltage{Volts: 11}), ErrConfig)
	assert.ErrorIs(t, f.ctrl.Submit(Tweak{Increments: -1}), ErrConfig)

	cfg := testConfig()
	cfg.CommandQueue = 1
	ctrl, err := New(cfg, f.dev)
	require.NoError(t, err)
	r := f.newRun(t, FreeRunning)
	r.cmds = make(chan Command, 1)
	ctrl.run, ctrl.state = r, FreeRunning

	require.NoError(t, ctrl.Submit(SetGain{Gain: 1}))
	assert.ErrorIs(t, ctrl.Submit(SetGain{Gain: 2}), ErrQueueFull)

	r.drain()
	assert.Equal(t, 1.0, r.settings.Gain)
}

func TestCommands_ApplyToWindow(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	r := f.newRun(t, FreeRunning)

	SetScanOffset{Offset: 2.0}.apply(r)
	assert.InDelta(t, 1.85, r.params.Low(), 1e-12)
	assert.InDelta(t, 2.15, r.params.High(), 1e-12)

	SetScanWidth{Width: 0.2}.apply(r)
	assert.InDelta(t, 1.9, r.params.Low(), 1e-12)
	assert.InDelta(t, 2.1, r.params.High(), 1e-12)

	SetSteps{Steps: 40}.apply(r)
	assert.Equal(t, 40, r.params.Steps())
	assert.InDelta(t, 0.2/40, r.params.StepSize(), 1e-12)

	r.state = CavityStabilized
	SetScanOffset{Offset: 4.0}.apply(r)
	assert.InDelta(t, 2.0, r.params.Center(), 1e-12, "offset only moves a free-running window")

	SetSetPoint{SetPoint: 0.07}.apply(r)
	assert.Equal(t, 0.07, r.setPoint)
}

func TestRun_LockThenStopWalksLaserToZero(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10, 3.105, 3.10})
	s := f.cfg.Defaults
	s.Gain = 0.5
	s.LaserVoltage = 1.0

	require.NoError(t, f.ctrl.Start(context.Background(), s))
	assert.ErrorIs(t, f.ctrl.Start(context.Background(), s), ErrAlreadyRunning)
	assert.Equal(t, FreeRunning, f.ctrl.State())

	require.Eventually(t, func() bool { return f.obs.traceCount() > 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1.0, f.dev.LaserVoltage())

	require.NoError(t, f.ctrl.EngageLock())
	require.Eventually(t, func() bool {
		return f.ctrl.State() == LaserLocked && f.ctrl.Status().LaserVoltage == 0.9975
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0.08, f.ctrl.Status().SetPoint)

	f.stop(t)

	assert.Equal(t, Stopped, f.ctrl.State())
	assert.False(t, f.ctrl.Running())
	assert.Equal(t, 1, f.dev.Released())

	h := f.dev.LaserHistory()
	n := f.cfg.StepDownSteps
	require.Greater(t, len(h), 2*n)
	assert.Equal(t, 1.0, h[n-1], "manual voltage reached before locking")
	assert.Equal(t, 0.9975, h[n])

	down := h[len(h)-n:]
	assert.Equal(t, 0.0, down[n-1])
	for i, v := range down {
		assert.InDelta(t, 0.9975*(1-float64(i+1)/float64(n)), v, 1e-9)
	}

	f.obs.mu.Lock()
	defer f.obs.mu.Unlock()
	assert.Equal(t, [][2]State{
		{Stopped, FreeRunning},
		{FreeRunning, LaserLocking},
		{LaserLocking, LaserLocked},
		{LaserLocked, Stopped},
	}, f.obs.transitions)
}

func TestRun_RestartAfterStop(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	assert.False(t, f.ctrl.Started())

	require.NoError(t, f.ctrl.Start(context.Background(), f.cfg.Defaults))
	require.Eventually(t, func() bool { return f.dev.Sweeps() >= 1 }, 2*time.Second, time.Millisecond)
	f.stop(t)
	assert.Equal(t, 1, f.dev.Released())
	assert.True(t, f.ctrl.Started())

	sweeps := f.dev.Sweeps()
	require.NoError(t, f.ctrl.Start(context.Background(), f.cfg.Defaults))
	require.Eventually(t, func() bool { return f.dev.Sweeps() >= sweeps+2 }, 2*time.Second, time.Millisecond)
	assert.True(t, f.ctrl.Running())
	assert.Equal(t, FreeRunning, f.ctrl.State())
	assert.Equal(t, 1, f.dev.Released(), "restart does not release")

	f.stop(t)
	assert.Equal(t, 2, f.dev.Released())
}

func TestRun_ScanTimeoutIsRecovered(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	f.dev.FailNext(hardware.ErrTimeout)

	require.NoError(t, f.ctrl.Start(context.Background(), f.cfg.Defaults))
	require.Eventually(t, func() bool { return f.dev.Sweeps() >= 2 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, FreeRunning, f.ctrl.State())
	assert.Contains(t, f.obs.noticeKinds(), NoticeScanFailed)
	f.stop(t)
}

func TestRun_FatalFaultStopsAndReleases(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	f.dev.FailNext(hardware.ErrFault)

	require.NoError(t, f.ctrl.Start(context.Background(), f.cfg.Defaults))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Wait(ctx))

	assert.Equal(t, Stopped, f.ctrl.State())
	assert.Equal(t, 1, f.dev.Released())
	assert.Contains(t, f.obs.noticeKinds(), NoticeHardwareFault)
	assert.ErrorIs(t, f.ctrl.Submit(SetGain{Gain: 1}), ErrNotRunning)
}

func TestRun_ContextCancelStops(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	ctx, cancel := context.WithCancel(context.Background())

	s := f.cfg.Defaults
	s.LaserVoltage = 0.5
	require.NoError(t, f.ctrl.Start(ctx, s))
	require.Eventually(t, func() bool { return f.dev.LaserVoltage() == 0.5 }, 2*time.Second, time.Millisecond)

	cancel()
	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	require.NoError(t, f.ctrl.Wait(wctx))

	assert.Equal(t, 0.0, f.dev.LaserVoltage())
	assert.Equal(t, 1, f.dev.Released())
	assert.Equal(t, Stopped, f.ctrl.State())
}

func TestRun_CommandsReachLoop(t *testing.T) {
	f := newFixture(t, []float64{3.02}, []float64{3.10})
	require.NoError(t, f.ctrl.Start(context.Background(), f.cfg.Defaults))

	require.NoError(t, f.ctrl.Submit(SetScanWidth{Width: 0.2}))
	require.NoError(t, f.ctrl.Submit(SetGain{Gain: 0.25}))
	require.Eventually(t, func() bool {
		st := f.ctrl.Status()
		return st.Settings.Gain == 0.25 && st.Window.High-st.Window.Low < 0.21
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, f.ctrl.StabilizeCavity())
	require.Eventually(t, func() bool {
		st := f.ctrl.Status()
		return st.CavityFit != nil && st.Window.SetPoint == 3.02
	}, 2*time.Second, time.Millisecond)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Traces)
	assert.Len(t, snap.Traces.Voltages, f.cfg.Defaults.Steps)
	names := make([]string, 0)
	for _, nv := range snap.Parameters() {
		names = append(names, nv.Name)
	}
	assert.Contains(t, names, "cavity_fit_centroid")
	assert.Contains(t, names, "scan_low")

	require.NoError(t, f.ctrl.UnlockCavity())
	assert.Equal(t, FreeRunning, f.ctrl.State())
	f.stop(t)
}

var _ PeakFitter = (*fit.Fitter)(nil)
