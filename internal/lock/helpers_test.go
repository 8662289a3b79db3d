package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transfer_cavity_lock/internal/fit"
	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/scan"
)

// stubFitter returns scripted centroids. The last value of each script
// repeats.
type stubFitter struct {
	mu          sync.Mutex
	cavityWidth float64
	cavity      []float64
	laser       []float64
}

func (s *stubFitter) Fit(x, y []float64, g fit.Coefficients) (fit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := &s.laser
	if g.Width == s.cavityWidth {
		seq = &s.cavity
	}
	c := (*seq)[0]
	if len(*seq) > 1 {
		*seq = (*seq)[1:]
	}
	return fit.Result{
		Coefficients: fit.Coefficients{Width: g.Width, Centroid: c, Amplitude: 1},
		Converged:    true,
	}, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions [][2]State
	traces      int
	notices     []Notice
}

func (o *recordingObserver) StateChanged(from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]State{from, to})
}

func (o *recordingObserver) TracesUpdated(Traces) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.traces++
}

func (o *recordingObserver) Notice(n Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

func (o *recordingObserver) noticeKinds() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds := make([]string, 0, len(o.notices))
	for _, n := range o.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func (o *recordingObserver) traceCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.traces
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LoopPeriod = time.Millisecond
	cfg.StepDownDelay = 0
	cfg.ScanTimeout = time.Second
	return cfg
}

type fixture struct {
	cfg    Config
	dev    *hardware.Simulator
	fitter *stubFitter
	obs    *recordingObserver
	ctrl   *Controller
}

func newFixture(t *testing.T, cavity, laser []float64) *fixture {
	t.Helper()
	cfg := testConfig()
	f := &fixture{
		cfg:    cfg,
		dev:    hardware.NewSimulator(hardware.DefaultSimConfig()),
		fitter: &stubFitter{cavityWidth: cfg.CavityFitWidth, cavity: cavity, laser: laser},
		obs:    &recordingObserver{},
	}
	ctrl, err := New(cfg, f.dev, WithFitter(f.fitter), WithObserver(f.obs))
	require.NoError(t, err)
	f.ctrl = ctrl
	return f
}

// newRun returns loop state for driving iterate directly, without a
// goroutine.
func (f *fixture) newRun(t *testing.T, state State) *run {
	t.Helper()
	s := f.cfg.Defaults
	params, err := scan.NewParameters(2.85, 3.15, s.Steps)
	require.NoError(t, err)
	r := newRun(f.cfg, s, params)
	r.state = state
	f.ctrl.mu.Lock()
	f.ctrl.state = state
	f.ctrl.mu.Unlock()
	return r
}

func (f *fixture) stop(t *testing.T) {
	t.Helper()
	_ = f.ctrl.StopRamp()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Wait(ctx))
}
