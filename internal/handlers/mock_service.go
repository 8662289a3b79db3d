package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"

	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/models"
	"transfer_cavity_lock/internal/service"
)

// ---- Service Mocks ----

// mockAuth issues an operator identity unless parseRole says otherwise.
type mockAuth struct {
	signUpID      int
	signUpRole    string
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseRole     string
	parseErr      error

	lastSignUpUsername string
	lastGenUsername    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(ctx context.Context, username, password string) (models.Operator, error) {
	m.lastSignUpUsername = username
	if m.signUpErr != nil {
		return models.Operator{}, m.signUpErr
	}
	return models.Operator{ID: m.signUpID, Username: username, Role: m.signUpRole}, nil
}
func (m *mockAuth) GenerateToken(ctx context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (models.Identity, error) {
	m.lastParseToken = token
	if m.parseErr != nil {
		return models.Identity{}, m.parseErr
	}
	role := m.parseRole
	if role == "" {
		role = models.RoleOperator
	}
	return models.Identity{OperatorID: m.parseID, Username: "tester", Role: role}, nil
}

// mockLock records the calls by name; err is returned by every call.
type mockLock struct {
	err   error
	calls []string

	flags    service.Flags
	gain     float64
	scan     service.ScanParams
	volts    float64
	setPoint float64
	tweak    service.TweakParams
}

func (m *mockLock) record(name string) error {
	m.calls = append(m.calls, name)
	return m.err
}

func (m *mockLock) Start(ctx context.Context) error     { return m.record("start") }
func (m *mockLock) Stop(ctx context.Context) error      { return m.record("stop") }
func (m *mockLock) Engage(ctx context.Context) error    { return m.record("engage") }
func (m *mockLock) Disengage(ctx context.Context) error { return m.record("disengage") }
func (m *mockLock) Stabilize(ctx context.Context) error { return m.record("stabilize") }
func (m *mockLock) Unlock(ctx context.Context) error    { return m.record("unlock") }

func (m *mockLock) SetFlags(ctx context.Context, f service.Flags) error {
	m.flags = f
	return m.record("flags")
}
func (m *mockLock) SetGain(ctx context.Context, gain float64) error {
	m.gain = gain
	return m.record("gain")
}
func (m *mockLock) SetScan(ctx context.Context, p service.ScanParams) error {
	m.scan = p
	return m.record("scan")
}
func (m *mockLock) SetLaserVoltage(ctx context.Context, volts float64) error {
	m.volts = volts
	return m.record("laser_voltage")
}
func (m *mockLock) SetSetPoint(ctx context.Context, sp float64) error {
	m.setPoint = sp
	return m.record("setpoint")
}
func (m *mockLock) Tweak(ctx context.Context, t service.TweakParams) error {
	m.tweak = t
	return m.record("tweak")
}

type mockMonitoring struct {
	status lock.Status
	err    error
}

func (m *mockMonitoring) Status(ctx context.Context) (lock.Status, error) {
	return m.status, m.err
}

type mockEventLog struct {
	resp     []models.LockEvent
	err      error
	lastFilt service.LogFilter
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.LockEvent, error) {
	m.lastFilt = f
	return m.resp, m.err
}

type mockArchive struct {
	entry     models.ArchiveEntry
	entries   []models.ArchiveEntry
	detail    models.ArchiveDetail
	err       error
	lastBatch int
	lastLimit int
	lastID    string
}

func (m *mockArchive) Get(ctx context.Context, id string) (models.ArchiveDetail, error) {
	m.lastID = id
	return m.detail, m.err
}

func (m *mockArchive) Store(ctx context.Context, batch int) (models.ArchiveEntry, error) {
	m.lastBatch = batch
	return m.entry, m.err
}

func (m *mockArchive) List(ctx context.Context, limit int) ([]models.ArchiveEntry, error) {
	m.lastLimit = limit
	return m.entries, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(s, nil)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// doJSON performs an authorized request against r.
func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
