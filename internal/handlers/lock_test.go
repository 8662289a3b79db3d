package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/service"
)

func newLockRouter() (*mockLock, *mockMonitoring, http.Handler) {
	lk := &mockLock{}
	mon := &mockMonitoring{status: lock.Status{State: lock.CavityStabilized, Running: true, SetPoint: 0.08}}
	s := &service.Service{
		Authorization: &mockAuth{parseID: 7},
		Lock:          lk,
		Monitoring:    mon,
	}
	return lk, mon, newTestRouter(s)
}

func TestLockHandlers_RequireAuth(t *testing.T) {
	_, _, r := newLockRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/lock/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth, got %d", w.Code)
	}
}

func TestLockHandlers_ObserversReadOnly(t *testing.T) {
	lk := &mockLock{}
	ar := &mockArchive{}
	s := &service.Service{
		Authorization: &mockAuth{parseID: 8, parseRole: models.RoleObserver},
		Lock:          lk,
		Monitoring:    &mockMonitoring{status: lock.Status{State: lock.FreeRunning, Running: true}},
		Archive:       ar,
	}
	r := newTestRouter(s)

	if w := doJSON(r, http.MethodGet, "/api/v1/lock/status", ""); w.Code != http.StatusOK {
		t.Fatalf("observer status read: got %d", w.Code)
	}
	for _, rt := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/v1/lock/start", ""},
		{http.MethodPost, "/api/v1/lock/engage", ""},
		{http.MethodPut, "/api/v1/lock/gain", `{"gain":0.5}`},
		{http.MethodPost, "/api/v1/archive", `{"batch":1}`},
	} {
		if w := doJSON(r, rt.method, rt.path, rt.body); w.Code != http.StatusForbidden {
			t.Fatalf("%s %s as observer: got %d, want 403", rt.method, rt.path, w.Code)
		}
	}
	if len(lk.calls) != 0 || ar.lastBatch != 0 {
		t.Fatalf("forbidden requests reached the services: %v, batch %d", lk.calls, ar.lastBatch)
	}
}

func TestLockHandlers_GetStatus(t *testing.T) {
	_, _, r := newLockRouter()
	w := doJSON(r, http.MethodGet, "/api/v1/lock/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
	var st struct {
		State    string  `json:"state"`
		Running  bool    `json:"running"`
		SetPoint float64 `json:"set_point"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.State != "CAVITYSTABILIZED" || !st.Running || st.SetPoint != 0.08 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestLockHandlers_GetStatusError(t *testing.T) {
	_, mon, r := newLockRouter()
	mon.err = errors.New("boom")
	if w := doJSON(r, http.MethodGet, "/api/v1/lock/status", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestLockHandlers_Actions(t *testing.T) {
	cases := []struct {
		path   string
		call   string
		status string
	}{
		{"/api/v1/lock/start", "start", statusStarted},
		{"/api/v1/lock/stop", "stop", statusStopped},
		{"/api/v1/lock/engage", "engage", statusEngaged},
		{"/api/v1/lock/disengage", "disengage", statusDisengaged},
		{"/api/v1/lock/stabilize", "stabilize", statusStabilized},
		{"/api/v1/lock/unlock", "unlock", statusUnlocked},
	}
	for _, tc := range cases {
		t.Run(tc.call, func(t *testing.T) {
			lk, _, r := newLockRouter()
			w := doJSON(r, http.MethodPost, tc.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
			}
			var resp struct {
				Status string          `json:"status"`
				Lock   json.RawMessage `json:"lock"`
			}
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Status != tc.status || len(resp.Lock) == 0 {
				t.Fatalf("unexpected response: %s", w.Body.String())
			}
			if len(lk.calls) != 1 || lk.calls[0] != tc.call {
				t.Fatalf("expected call %q, got %v", tc.call, lk.calls)
			}
		})
	}
}

func TestLockHandlers_ErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{lock.ErrNotRunning, http.StatusConflict},
		{lock.ErrAlreadyRunning, http.StatusConflict},
		{lock.ErrQueueFull, http.StatusConflict},
		{fmt.Errorf("%w: steps 0", service.ErrInvalidParams), http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		lk, _, r := newLockRouter()
		lk.err = tc.err
		if w := doJSON(r, http.MethodPost, "/api/v1/lock/start", ""); w.Code != tc.code {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestLockHandlers_Settings(t *testing.T) {
	lk, _, r := newLockRouter()

	if w := doJSON(r, http.MethodPut, "/api/v1/lock/flags", `{"fit":true,"lock":true}`); w.Code != http.StatusOK {
		t.Fatalf("flags status=%d, body=%s", w.Code, w.Body.String())
	}
	if !lk.flags.Fit || !lk.flags.Lock {
		t.Fatalf("unexpected flags: %+v", lk.flags)
	}

	if w := doJSON(r, http.MethodPut, "/api/v1/lock/gain", `{"gain":0.5}`); w.Code != http.StatusOK || lk.gain != 0.5 {
		t.Fatalf("gain status=%d gain=%v", w.Code, lk.gain)
	}
	if w := doJSON(r, http.MethodPut, "/api/v1/lock/gain", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing gain, got %d", w.Code)
	}

	if w := doJSON(r, http.MethodPut, "/api/v1/lock/scan", `{"width":0.4,"steps":80}`); w.Code != http.StatusOK {
		t.Fatalf("scan status=%d, body=%s", w.Code, w.Body.String())
	}
	if lk.scan.Width == nil || *lk.scan.Width != 0.4 || lk.scan.Steps == nil || *lk.scan.Steps != 80 || lk.scan.Offset != nil {
		t.Fatalf("unexpected scan params: %+v", lk.scan)
	}

	if w := doJSON(r, http.MethodPut, "/api/v1/lock/laser-voltage", `{"volts":-1.25}`); w.Code != http.StatusOK || lk.volts != -1.25 {
		t.Fatalf("laser-voltage status=%d volts=%v", w.Code, lk.volts)
	}
	if w := doJSON(r, http.MethodPut, "/api/v1/lock/setpoint", `{"set_point":0.081}`); w.Code != http.StatusOK || lk.setPoint != 0.081 {
		t.Fatalf("setpoint status=%d setpoint=%v", w.Code, lk.setPoint)
	}

	if w := doJSON(r, http.MethodPost, "/api/v1/lock/tweak", `{"direction":"down"}`); w.Code != http.StatusOK {
		t.Fatalf("tweak status=%d, body=%s", w.Code, w.Body.String())
	}
	if lk.tweak.Direction != "down" || lk.tweak.Count != 1 {
		t.Fatalf("expected a single down tweak, got %+v", lk.tweak)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/lock/tweak", `{"count":2}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without direction, got %d", w.Code)
	}
}
